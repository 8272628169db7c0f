package transcript

// charOffsets maps every rune-boundary byte offset of text, including
// len(text), to its character index. Offsets inside a multi-byte rune map
// to zero and are never looked up.
func charOffsets(text string) []int {
	chars := make([]int, len(text)+1)
	n := 0
	for i := range text {
		chars[i] = n
		n++
	}
	chars[len(text)] = n
	return chars
}

// byteOffsets returns the byte offset of every character of text followed by
// len(text), so byteOffsets(text)[k] is where character k starts.
func byteOffsets(text string) []int {
	bytes := make([]int, 0, len(text)+1)
	for i := range text {
		bytes = append(bytes, i)
	}
	return append(bytes, len(text))
}
