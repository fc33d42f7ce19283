package utils

import (
	"bytes"

	"github.com/dhowden/tag"
)

// AudioTags — то, что удалось вытащить из ID3/FLAC/MP4 тегов.
type AudioTags struct {
	Title     string
	Artist    string
	Cover     []byte
	CoverMIME string
}

// ReadAudioTags разбирает начало аудиофайла. false — тегов нет или формат не распознан.
func ReadAudioTags(data []byte) (*AudioTags, bool) {
	m, err := tag.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	t := &AudioTags{Title: m.Title(), Artist: m.Artist()}
	if pic := m.Picture(); pic != nil && len(pic.Data) > 0 {
		t.Cover, t.CoverMIME = pic.Data, pic.MIMEType
	}
	return t, true
}
