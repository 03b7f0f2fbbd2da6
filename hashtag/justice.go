package hashtag

import (
	"regexp"
	"strings"
	"time"

	"github.com/brettboylen/mischief-tracker/models"
)

var (
	evidenceRe = regexp.MustCompile(`#missionmischiefevidenc(\S+)`)
	accusedRe  = regexp.MustCompile(`#missionmischiefaccused@(\S+)`)
	caseTagRe  = regexp.MustCompile(`#missionmischief([a-z]+)`)
)

// words that follow the marker but do not name a mission
var nonMissionSuffixes = []string{"evidenc", "accused", "country", "state", "city", "points", "user"}

// RedemptionTags must be posted by a convicted player to clear a case
var RedemptionTags = []string{"#missionmischiefclown", "#missionmischiefpaidbail"}

// ParseJusticeCase reads an accusation from a post. Both an evidence tag and
// an accused tag are required; anything else yields ok == false.
func ParseJusticeCase(text, accuser string, postedAt time.Time) (models.JusticeCase, bool) {
	lower := strings.ToLower(text)

	evidence := evidenceRe.FindStringSubmatch(lower)
	accused := accusedRe.FindStringSubmatch(lower)
	if evidence == nil || accused == nil {
		return models.JusticeCase{}, false
	}

	mission := "unknown"
	for _, m := range caseTagRe.FindAllStringSubmatch(lower, -1) {
		if !hasAnyPrefix(m[1], nonMissionSuffixes) {
			mission = m[1]
			break
		}
	}

	if accuser == "" {
		accuser = UnknownHandle
	} else if !strings.HasPrefix(accuser, "@") {
		accuser = "@" + accuser
	}

	requirements := make([]models.Requirement, 0, len(RedemptionTags))
	for _, tag := range RedemptionTags {
		requirements = append(requirements, models.Requirement{Hashtag: tag})
	}

	return models.JusticeCase{
		Mission:         "Mission: " + mission,
		Accused:         "@" + accused[1],
		Accuser:         accuser,
		EvidenceHashtag: "#missionmischiefevidenc" + evidence[1],
		Date:            postedAt.UTC().Format("2006-01-02"),
		Requirements:    requirements,
		Status:          "pending",
	}, true
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
