package models

const (
	CounterVerifiedToday    = "verified_today"
	CounterFilesSharedToday = "files_shared_today"
)

// DailyStats — глобальные суточные счётчики; LastResetDate в формате 2006-01-02.
type DailyStats struct {
	VerifiedToday    int64  `json:"verified_today" db:"verified_today"`
	FilesSharedToday int64  `json:"files_shared_today" db:"files_shared_today"`
	LastResetDate    string `json:"last_reset_date" db:"last_reset_date"`
}
