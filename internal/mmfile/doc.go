// Package mmfile maps assembly files into memory for read-only parsing.
//
// On unix the file is mapped with mmap; elsewhere it is read whole. Either
// way the returned slice must not be modified.
package mmfile
