package growth

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/Veraticus/opsflow/internal/model"
)

// ContentRequest asks for a content bundle.
type ContentRequest struct {
	Topic    string `json:"topic"`
	Platform string `json:"platform"`
	Tone     string `json:"tone"`
}

// Wanted reports whether any field was set. Unset fields fall back to defaults.
func (r *ContentRequest) Wanted() bool {
	return r != nil && (strings.TrimSpace(r.Topic) != "" ||
		strings.TrimSpace(r.Platform) != "" ||
		strings.TrimSpace(r.Tone) != "")
}

const (
	defaultTopic    = "our business"
	defaultPlatform = "instagram"
	defaultTone     = "friendly"
	calendarDays    = 7
)

var weeklyThemes = []string{
	"Behind the scenes",
	"Customer story",
	"Tip of the week",
	"Product spotlight",
	"Team introduction",
	"Industry news",
	"Weekend recap",
}

var platformFormats = map[string][]string{
	"instagram": {"carousel", "reel", "story"},
	"linkedin":  {"article", "post", "poll"},
	"twitter":   {"thread", "post"},
	"facebook":  {"post", "video", "event"},
	"tiktok":    {"short video"},
}

var toneOpeners = map[string]string{
	"friendly":     "Hey everyone!",
	"professional": "We are pleased to share",
	"playful":      "Guess what?",
	"inspiring":    "Big things start small.",
}

// ContentRequestFromPayload reads topic, platform and tone from a payload.
// It returns nil when none of them is present.
func ContentRequestFromPayload(payload map[string]any) *ContentRequest {
	topic, _ := payload["topic"].(string)
	platform, _ := payload["platform"].(string)
	tone, _ := payload["tone"].(string)
	req := &ContentRequest{Topic: topic, Platform: platform, Tone: tone}
	if !req.Wanted() {
		return nil
	}
	return req
}

// Suggest builds a templated content bundle with a calendar starting the day after now.
func Suggest(req ContentRequest, now time.Time) *model.ContentSuggestions {
	platform := strings.ToLower(strings.TrimSpace(req.Platform))
	if _, ok := platformFormats[platform]; !ok {
		platform = defaultPlatform
	}
	tone := strings.ToLower(strings.TrimSpace(req.Tone))
	opener, ok := toneOpeners[tone]
	if !ok {
		tone, opener = defaultTone, toneOpeners[defaultTone]
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		topic = defaultTopic
	}

	formats := platformFormats[platform]
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	calendar := make([]model.CalendarEntry, calendarDays)
	for i := range calendar {
		calendar[i] = model.CalendarEntry{
			Date:   start.AddDate(0, 0, i),
			Theme:  fmt.Sprintf("%s: %s", weeklyThemes[i%len(weeklyThemes)], topic),
			Format: formats[i%len(formats)],
		}
	}

	return &model.ContentSuggestions{
		Topic:    topic,
		Platform: platform,
		Tone:     tone,
		Calendar: calendar,
		Captions: []string{
			fmt.Sprintf("%s Let's talk about %s.", opener, topic),
			fmt.Sprintf("Three things we learned about %s this month.", topic),
			fmt.Sprintf("What does %s mean for you? Tell us below.", topic),
		},
		Hashtags: hashtags(topic, platform),
	}
}

func hashtags(topic, platform string) []string {
	seen := make(map[string]bool)
	var tags []string
	add := func(tag string) {
		if tag == "#" || seen[tag] {
			return
		}
		seen[tag] = true
		tags = append(tags, tag)
	}

	var joined strings.Builder
	for _, word := range strings.Fields(topic) {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, word)
		if clean == "" {
			continue
		}
		joined.WriteString(clean)
		add("#" + clean)
	}
	add("#" + joined.String())
	add("#smallbusiness")
	add("#" + platform + "tips")
	return tags
}
