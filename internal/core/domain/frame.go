package domain

// EncodedFrame is one encoded video access unit produced by the external
// capture/encoder pipeline. Frames are read-only once produced; equality is
// defined by PresentationTimeUs alone.
type EncodedFrame struct {
	Payload            []byte
	PresentationTimeUs int64
	IsKeyFrame         bool
	IsConfig           bool
}
