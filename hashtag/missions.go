package hashtag

import "github.com/brettboylen/mischief-tracker/models"

// Marker identifies a post as part of the campaign
const Marker = "missionmischief"

const (
	// DefaultMission is the catch-all mission for posts with no mission hashtag
	DefaultMission models.MissionID = 1

	// RedemptionMission is scored by accused players clearing a justice case
	RedemptionMission models.MissionID = 999
)

// MissionTableVersion changes whenever missionTable changes. Historical
// claims were parsed under the version current at the time.
const MissionTableVersion = 1

type missionTag struct {
	tag string
	id  models.MissionID
}

// missionTable is scanned in order; the first tag found in the text wins.
var missionTable = []missionTag{
	{"#missionmischiefcoffee", 7},
	{"#missionmischiefbeer", 3},
	{"#missionmischiefrecycling", 21},
	{"#missionmischiefgas", 6},
	{"#missionmischiefgrocery", 8},
	{"#missionmischieffast", 9},
	{"#missionmischiefretail", 10},
	{"#missionmischiefbank", 11},
	{"#missionmischiefpark", 12},
	{"#missionmischiefgym", 13},
	{"#missionmischiefrestaurant", 14},
	{"#missionmischiefmovie", 15},
	{"#missionmischiefmall", 16},
	{"#missionmischiefbeach", 17},
	{"#missionmischiefhike", 18},
	{"#missionmischiefmuseum", 19},
	{"#missionmischiefzoo", 20},
	{"#missionmischiefslimshady", 5},
	{"#missionmischiefclown", RedemptionMission},
	{"#missionmischiefpaidbail", RedemptionMission},
	{"#missionmischieftest", DefaultMission},
}

// MissionTags returns the mission hashtags in priority order
func MissionTags() []string {
	tags := make([]string, 0, len(missionTable))
	for _, m := range missionTable {
		tags = append(tags, m.tag)
	}
	return tags
}
