// Package hashtag extracts game facts from the campaign's hashtag protocol.
//
// Every extraction works on the lower-cased text and falls back to a
// documented default, so parsing never fails.
package hashtag

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/brettboylen/mischief-tracker/models"
)

const (
	UnknownHandle   = "@unknown"
	UnknownLocation = "Unknown"
	DefaultCountry  = "US"
	DefaultPoints   = 3
)

var (
	handleRe  = regexp.MustCompile(`#(@\w+)`)
	userTagRe = regexp.MustCompile(`#missionmischiefuser([a-z]+)`)
	anyTagRe  = regexp.MustCompile(`#([a-z]+)`)
	pointsRe  = regexp.MustCompile(`#missionmischiefpoints(\d+)`)
	cityRe    = regexp.MustCompile(`#missionmischiefcity([a-z]+)`)
	stateRe   = regexp.MustCompile(`#missionmischiefstate([a-z]+)`)
	countryRe = regexp.MustCompile(`#missionmischiefcountry([a-z]+)`)
)

// protocol words that are never usernames
var reservedTags = map[string]bool{
	"realworldgame":              true,
	"hashtagblockchain":          true,
	"iwillnotsuemissionmischief": true,
}

// locationOverride maps a bare place name in the text to a full location.
// FIXME: looks like leftover debugging for two early players; remove once
// their posts carry city/state hashtags.
type locationOverride struct {
	needle               string
	city, state, country string
}

var locationOverrides = []locationOverride{
	{"austin", "Austin", "TX", "US"},
	{"seattle", "Seattle", "WA", "US"},
}

// Options tunes handle extraction
type Options struct {
	// UsernameFallback accepts #missionmischiefuser<name> or the first
	// non-protocol hashtag when no #@handle is present
	UsernameFallback bool
}

// Parse extracts a claim using the default options
func Parse(text string) models.ParsedClaim {
	return ParseWith(text, Options{})
}

// ParseWith extracts a claim from text; it is pure and total
func ParseWith(text string, opts Options) models.ParsedClaim {
	lower := strings.ToLower(text)

	city, state, country := parseLocation(lower)

	return models.ParsedClaim{
		Handle:    parseHandle(lower, opts),
		Points:    parsePoints(lower),
		City:      city,
		State:     state,
		Country:   country,
		MissionID: parseMission(lower),
	}
}

// HasMarker reports whether text mentions the campaign marker
func HasMarker(text string) bool {
	return strings.Contains(strings.ToLower(text), Marker)
}

func parseHandle(lower string, opts Options) string {
	if m := handleRe.FindStringSubmatch(lower); m != nil {
		return m[1]
	}
	if !opts.UsernameFallback {
		return UnknownHandle
	}
	if m := userTagRe.FindStringSubmatch(lower); m != nil {
		return "@" + m[1]
	}
	for _, m := range anyTagRe.FindAllStringSubmatch(lower, -1) {
		tag := m[1]
		if strings.HasPrefix(tag, Marker) || reservedTags[tag] {
			continue
		}
		return "@" + tag
	}
	return UnknownHandle
}

func parsePoints(lower string) int {
	m := pointsRe.FindStringSubmatch(lower)
	if m == nil {
		return DefaultPoints
	}
	points, err := strconv.Atoi(m[1])
	if err != nil {
		// out of int range
		return DefaultPoints
	}
	return points
}

func parseLocation(lower string) (city, state, country string) {
	cityMatch := cityRe.FindStringSubmatch(lower)
	stateMatch := stateRe.FindStringSubmatch(lower)
	countryMatch := countryRe.FindStringSubmatch(lower)

	if cityMatch == nil && stateMatch == nil {
		for _, o := range locationOverrides {
			if strings.Contains(lower, o.needle) {
				return o.city, o.state, o.country
			}
		}
	}

	city, state, country = UnknownLocation, UnknownLocation, DefaultCountry
	if cityMatch != nil {
		// a Caser keeps state and cannot be shared across goroutines
		city = cases.Title(language.Und).String(cityMatch[1])
	}
	if stateMatch != nil {
		state = strings.ToUpper(stateMatch[1])
	}
	if countryMatch != nil {
		country = strings.ToUpper(countryMatch[1])
	}
	return city, state, country
}

func parseMission(lower string) models.MissionID {
	for _, m := range missionTable {
		if strings.Contains(lower, m.tag) {
			return m.id
		}
	}
	return DefaultMission
}
