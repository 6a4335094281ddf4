package chat

import "strings"

// Intent selects the animated activity label shown while a response
// generates. It never changes the request sent to the provider.
type Intent string

const (
	IntentPlain       Intent = "plain"
	IntentWebSearch   Intent = "web_search"
	IntentVideoSearch Intent = "video_search"
)

// Keyword sets are fixed; matching is plain substring search over the
// lowercased input. Video intent wins when both sets would match.
var videoKeywords = []string{
	"youtube", "video", "nonton", "watch", "clip", "cuplikan", "trailer", "film",
}

var searchKeywords = []string{
	"siapa", "kapan", "dimana", "berapa", "terbaru", "berita", "hari ini", "sekarang",
	"news", "latest", "price", "who", "when", "where", "search", "cari", "info",
	"live", "realtime", "gaza", "israel", "gempa", "cuaca", "skor", "hasil", "profil",
	"biografi", "saham", "kurs", "rupiah", "dollar", "jadwal", "klasemen", "pemilu",
	"presiden", "menteri", "kebijakan", "uu", "hukum", "kasus", "viral", "trending",
}

// ClassifyIntent maps input text to an activity intent. Attachments force
// plain: an attached file or image implies document or vision analysis, not
// search.
func ClassifyIntent(text string, hasAttachments bool) Intent {
	if hasAttachments {
		return IntentPlain
	}
	lower := strings.ToLower(text)
	for _, kw := range videoKeywords {
		if strings.Contains(lower, kw) {
			return IntentVideoSearch
		}
	}
	for _, kw := range searchKeywords {
		if strings.Contains(lower, kw) {
			return IntentWebSearch
		}
	}
	return IntentPlain
}
