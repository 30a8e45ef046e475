package watch

import (
	"fmt"
	"math"
	"strings"

	"watchsync/internal/media"
)

// BuildM3U renders items as an extended M3U playlist. Live items get the
// conventional -1 duration; the current position is recorded as a comment
// so exported playlists can resume where the feed was.
func BuildM3U(thread ThreadID, items []media.Item, pos int) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString(fmt.Sprintf("#PLAYLIST:thread %s\n", thread))
	if len(items) == 0 {
		return b.String()
	}
	b.WriteString(fmt.Sprintf("#X-WATCHSYNC-POSITION:%d\n\n", pos))

	for _, it := range items {
		b.WriteString(fmt.Sprintf("#EXTINF:%d,%s\n", extinfDuration(it), extinfTitle(it)))
		b.WriteString(it.URL)
		b.WriteString("\n")
	}
	return b.String()
}

// extinfDuration rounds up to whole seconds, as players expect.
func extinfDuration(it media.Item) int {
	if it.IsLive() || it.Duration <= 0 {
		return -1
	}
	return int(math.Ceil(it.Duration))
}

func extinfTitle(it media.Item) string {
	title := it.Title
	if title == "" {
		title = it.URL
	}
	if it.Author != "" {
		title = it.Author + " - " + title
	}
	// A newline would end the directive early.
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(title)
}
