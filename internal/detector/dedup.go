package detector

// ShouldEmit reports whether an alert for the window ending at end may be sent,
// given the end block of the last sent alert (nil if none).
func ShouldEmit(end uint64, cursor *uint64) bool {
	return cursor == nil || *cursor != end
}
