// Package tokens implements the placeholder substitution used by the
// auto-responder and scheduler announce/timer text (GLOSSARY "Token
// expansion").
package tokens

import (
	"strconv"
	"strings"
	"time"
)

// Values holds every substitutable field. Zero values render as empty or
// zero, not as an error — a template referencing an unset token just
// gets a blank.
type Values struct {
	LongName    string
	ShortName   string
	Hops        int
	SNR         float32
	RSSI        int32
	Channel     string
	Transport   string
	Duration    string
	NodeCount   int
	DirectCount int
	Now         time.Time
	IP          string
	Port        int
	Version     string
	Features    string
}

// Expand substitutes every {TOKEN} in tmpl per the GLOSSARY token list.
func Expand(tmpl string, v Values) string {
	r := strings.NewReplacer(
		"{LONG_NAME}", v.LongName,
		"{SHORT_NAME}", v.ShortName,
		"{HOPS}", strconv.Itoa(v.Hops),
		"{SNR}", strconv.FormatFloat(float64(v.SNR), 'f', 1, 32),
		"{RSSI}", strconv.Itoa(int(v.RSSI)),
		"{CHANNEL}", v.Channel,
		"{TRANSPORT}", v.Transport,
		"{DURATION}", v.Duration,
		"{NODECOUNT}", strconv.Itoa(v.NodeCount),
		"{DIRECTCOUNT}", strconv.Itoa(v.DirectCount),
		"{TIME}", v.Now.Format("15:04:05"),
		"{DATE}", v.Now.Format("2006-01-02"),
		"{IP}", v.IP,
		"{PORT}", strconv.Itoa(v.Port),
		"{VERSION}", v.Version,
		"{FEATURES}", v.Features,
	)
	return r.Replace(tmpl)
}
