package util

import (
	"hash/fnv"
	"math/rand"
)

func GetRandomNumber() int {
	min := 111111
	max := 999999
	return rand.Intn(max-min) + min
}

var presenceColors = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231",
	"#911eb4", "#42d4f4", "#f032e6", "#9a6324",
}

// ColorFor picks a stable presence color for a user.
func ColorFor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return presenceColors[h.Sum32()%uint32(len(presenceColors))]
}
