package index

// DropRecord removes the metadata record of id while keeping its vector
func (x *Index) DropRecord(id int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.records, id)
}
