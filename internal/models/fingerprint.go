package models

import "time"

type Fingerprint struct {
	UniqueID   string    `json:"unique_id" db:"unique_id"`
	MessageID  int       `json:"message_id" db:"message_id"`
	Caption    string    `json:"caption" db:"caption"`
	HashStart  string    `json:"hash_start" db:"hash_start"`
	HashMiddle string    `json:"hash_middle" db:"hash_middle"`
	HashEnd    string    `json:"hash_end" db:"hash_end"`
	FileSize   int64     `json:"file_size" db:"file_size"`
	FileName   string    `json:"file_name" db:"file_name"`
	Duration   int       `json:"duration" db:"duration"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// FingerprintQuery — OR-поиск: любое заполненное условие даёт совпадение.
// Метаданные (размер, имя, длительность) сравниваются только вместе.
type FingerprintQuery struct {
	UniqueID  string
	Caption   string
	HashStart string
	WithMeta  bool
	FileSize  int64
	FileName  string
	Duration  int
}

// Matches повторяет семантику запроса для in-memory хранилищ.
func (q FingerprintQuery) Matches(f *Fingerprint) bool {
	switch {
	case q.UniqueID != "" && f.UniqueID == q.UniqueID:
		return true
	case q.Caption != "" && f.Caption == q.Caption:
		return true
	case q.HashStart != "" && f.HashStart == q.HashStart:
		return true
	case q.WithMeta && f.FileSize == q.FileSize && f.FileName == q.FileName && f.Duration == q.Duration:
		return true
	}
	return false
}

// FingerprintField — атрибут для админского удаления.
type FingerprintField string

const (
	FPUniqueID   FingerprintField = "unique_id"
	FPHashStart  FingerprintField = "hash_start"
	FPHashMiddle FingerprintField = "hash_middle"
	FPHashEnd    FingerprintField = "hash_end"
	FPFileName   FingerprintField = "file_name"
	FPCaption    FingerprintField = "caption"
	FPFileSize   FingerprintField = "file_size"
)

func (f *Fingerprint) Field(name FingerprintField) string {
	switch name {
	case FPUniqueID:
		return f.UniqueID
	case FPHashStart:
		return f.HashStart
	case FPHashMiddle:
		return f.HashMiddle
	case FPHashEnd:
		return f.HashEnd
	case FPFileName:
		return f.FileName
	case FPCaption:
		return f.Caption
	}
	return ""
}
