package writer

// MemWriter captures the rewritten image in memory.
type MemWriter struct {
	Buf []byte
}

// WriteAssembly stores a copy of buf.
func (w *MemWriter) WriteAssembly(buf []byte) error {
	w.Buf = append(w.Buf[:0], buf...)
	return nil
}
