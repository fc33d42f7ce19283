package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

var (
	containerExt = regexp.MustCompile(`(?i)\.mkv|\.mp4|\.webm`)
	movieInfo    = regexp.MustCompile(`(.+?)(\d{4})`)
	privateLink  = regexp.MustCompile(`^https://t\.me/c/(-?\d+)/(\d+)`)
	publicLink   = regexp.MustCompile(`^https://t\.me/([a-zA-Z0-9_]+)/(\d+)`)
)

// RemoveExtension вырезает контейнерные расширения из имени/подписи.
func RemoveExtension(s string) string {
	return containerExt.ReplaceAllString(s, "")
}

func HumanBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(n))
}

// ReadableTime: 90061 -> "1d1h 1m 1s".
func ReadableTime(seconds int64) string {
	var b strings.Builder
	days := seconds / 86400
	rem := seconds % 86400
	if days != 0 {
		fmt.Fprintf(&b, "%dd", days)
	}
	hours := rem / 3600
	rem %= 3600
	if hours != 0 {
		fmt.Fprintf(&b, "%dh", hours)
	}
	minutes := rem / 60
	if minutes != 0 {
		fmt.Fprintf(&b, " %dm", minutes)
	}
	fmt.Fprintf(&b, " %ds", rem%60)
	return strings.TrimSpace(b.String())
}

// MediaDuration: 3725 -> "1 hrs, 2 min, 5 sec".
func MediaDuration(seconds int) string {
	if seconds <= 0 {
		return ""
	}
	d, rem := seconds/86400, seconds%86400
	h, rem := rem/3600, rem%3600
	m, s := rem/60, rem%60
	var parts []string
	if d > 0 {
		parts = append(parts, strconv.Itoa(d)+" days")
	}
	if h > 0 {
		parts = append(parts, strconv.Itoa(h)+" hrs")
	}
	if m > 0 {
		parts = append(parts, strconv.Itoa(m)+" min")
	}
	if s > 0 {
		parts = append(parts, strconv.Itoa(s)+" sec")
	}
	return strings.Join(parts, ", ")
}

// MovieInfo: "Some.Movie.(2019).1080p.mkv" -> ("Some Movie", "2019").
func MovieInfo(name string) (title, year string, ok bool) {
	m := movieInfo.FindStringSubmatch(name)
	if m == nil {
		return "", "", false
	}
	title = strings.NewReplacer(".", " ", "(", "", ")", "").Replace(m[1])
	title = strings.TrimSpace(title)
	if title == "" {
		return "", "", false
	}
	return title, m[2], true
}

// MessageIDFromLink достаёт id сообщения из t.me/c/<chat>/<id> или t.me/<name>/<id>.
func MessageIDFromLink(link string) (int, bool) {
	link = strings.TrimSpace(link)
	for _, re := range []*regexp.Regexp{privateLink, publicLink} {
		if m := re.FindStringSubmatch(link); m != nil {
			id, err := strconv.Atoi(m[2])
			return id, err == nil
		}
	}
	return 0, false
}
