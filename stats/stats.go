package stats

// Stats holds information about the cassette and
// VCR runtime.
type Stats struct {
	// TotalChapters is the total number of chapters on the cassette.
	TotalChapters int32

	// ChaptersLoaded is the number of chapters that were loaded from the cassette.
	ChaptersLoaded int32

	// ChaptersRecorded is the number of new chapters recorded by VCR.
	ChaptersRecorded int32

	// ChaptersPlayed is the number of chapters played back straight from the cassette.
	// I.e. chapters that were already present on the cassette and were played back.
	ChaptersPlayed int32
}
