package internal

import "context"

// Screener flags text that must not be indexed.
type Screener interface {
	ScreenForPII(ctx context.Context, text string) (bool, error)
}

// Screen runs s on text and converts the verdict into a skip for path.
// A nil result means the file may proceed to the builder.
func Screen(ctx context.Context, s Screener, path, text string) *FileResult {
	flagged, err := s.ScreenForPII(ctx, text)
	if err != nil {
		r := Skipped(path, SkipScreenFailed, err)
		return &r
	}
	if flagged {
		r := Skipped(path, SkipPII, nil)
		return &r
	}
	return nil
}
