// Package port describes the contiguous port range that backs the pool.
//
// Every port in the range is one pool slot; the range size is the pool
// capacity and is fixed once the pool is initialized.
//
//	r := port.Range{From: 9222, To: 9232}
//	r.Size()        // 11
//	r.Contains(9230) // true
//
// Ranges can also be parsed from the "from-to" form used on the command line.
package port
