package cracker

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DeviceStatus is one compute device's line in a status block.
type DeviceStatus struct {
	ID      int     `json:"id"`
	SpeedHs float64 `json:"speed_hs"`
	Temp    int     `json:"temp"`
	Util    int     `json:"util"`
}

// Status is one parsed status block from the cracker.
type Status struct {
	Label          string         `json:"label"`
	ProgressCur    int64          `json:"progress_cur"`
	ProgressTotal  int64          `json:"progress_total"`
	ProgressPct    float64        `json:"progress_pct"`
	Recovered      int            `json:"recovered"`
	RecoveredTotal int            `json:"recovered_total"`
	RecoveredPct   float64        `json:"recovered_pct"`
	Devices        []DeviceStatus `json:"devices"`
	TimeStarted    string         `json:"time_started"`
	TimeEstimated  string         `json:"time_estimated"`
}

// TotalSpeed sums per-device speeds in hashes per second.
func (s Status) TotalSpeed() float64 {
	var total float64
	for _, d := range s.Devices {
		total += d.SpeedHs
	}

	return total
}

// Compiled once; the parser runs on every stdout line of a
// potentially week-long child process.
var (
	statusLabelRe = regexp.MustCompile(`Status\.*: (.+)`)
	speedRe       = regexp.MustCompile(`Speed\.#(\d+)\.*: *(\d+(?:\.\d+)?)\s*([kMGT]?H/s)`)
	progressRe    = regexp.MustCompile(`Progress\.*: (\d+)/(\d+) \((\d+(?:\.\d+)?)%\)`)
	recoveredRe   = regexp.MustCompile(`Recovered\.*: (\d+)/(\d+) \((\d+(?:\.\d+)?)%\)`)
	tempRe        = regexp.MustCompile(`Temp:\s*(\d+)c`)
	utilRe        = regexp.MustCompile(`Util\.#(\d+)\.*: *(\d+)%`)
	startedRe     = regexp.MustCompile(`Time\.Started\.*: (.+)`)
	estimatedRe   = regexp.MustCompile(`Time\.Estimated\.*: (.+)`)
)

const blockCompleteLines = 10

// Parser accumulates the cracker's human status output line by line
// and emits a [Status] whenever a block is complete enough to
// publish: it contains Time.Estimated, or a Rejected line, or has
// grown past ten lines.
type Parser struct {
	lines []string
}

// NewParser returns an empty status parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed adds one line. When the accumulated block is publishable, the
// parsed Status is returned with ok=true and the buffer resets.
func (p *Parser) Feed(line string) (Status, bool) {
	p.lines = append(p.lines, line)

	complete := strings.Contains(line, "Time.Estimated") ||
		strings.Contains(line, "Rejected") ||
		len(p.lines) > blockCompleteLines

	if !complete {
		return Status{}, false
	}

	status := parseBlock(p.lines)
	p.lines = p.lines[:0]

	return status, true
}

// Flush parses whatever is buffered, publishable or not. Called once
// when the child exits so a final partial block is not lost.
func (p *Parser) Flush() (Status, bool) {
	if len(p.lines) == 0 {
		return Status{}, false
	}

	status := parseBlock(p.lines)
	p.lines = p.lines[:0]

	return status, true
}

func parseBlock(lines []string) Status {
	var st Status

	devices := make(map[int]*DeviceStatus)

	device := func(id int) *DeviceStatus {
		d, ok := devices[id]
		if !ok {
			d = &DeviceStatus{ID: id}
			devices[id] = d
		}

		return d
	}

	for _, line := range lines {
		if m := statusLabelRe.FindStringSubmatch(line); m != nil {
			st.Label = strings.TrimSpace(m[1])
		}

		if m := speedRe.FindStringSubmatch(line); m != nil {
			id, _ := strconv.Atoi(m[1])
			val, _ := strconv.ParseFloat(m[2], 64)
			d := device(id)
			d.SpeedHs = normalizeSpeed(val, m[3])

			// Hardware monitors print the temperature on the same
			// device line.
			if t := tempRe.FindStringSubmatch(line); t != nil {
				d.Temp, _ = strconv.Atoi(t[1])
			}
		}

		if m := utilRe.FindStringSubmatch(line); m != nil {
			id, _ := strconv.Atoi(m[1])
			d := device(id)
			d.Util, _ = strconv.Atoi(m[2])

			if t := tempRe.FindStringSubmatch(line); t != nil {
				d.Temp, _ = strconv.Atoi(t[1])
			}
		}

		if m := progressRe.FindStringSubmatch(line); m != nil {
			st.ProgressCur, _ = strconv.ParseInt(m[1], 10, 64)
			st.ProgressTotal, _ = strconv.ParseInt(m[2], 10, 64)
			st.ProgressPct, _ = strconv.ParseFloat(m[3], 64)
		}

		if m := recoveredRe.FindStringSubmatch(line); m != nil {
			st.Recovered, _ = strconv.Atoi(m[1])
			st.RecoveredTotal, _ = strconv.Atoi(m[2])
			st.RecoveredPct, _ = strconv.ParseFloat(m[3], 64)
		}

		if m := startedRe.FindStringSubmatch(line); m != nil {
			st.TimeStarted = strings.TrimSpace(m[1])
		}

		if m := estimatedRe.FindStringSubmatch(line); m != nil {
			st.TimeEstimated = strings.TrimSpace(m[1])
		}
	}

	for id := range devices {
		st.Devices = append(st.Devices, *devices[id])
	}

	sortDevices(st.Devices)

	return st
}

func sortDevices(devices []DeviceStatus) {
	for i := 1; i < len(devices); i++ {
		for j := i; j > 0 && devices[j].ID < devices[j-1].ID; j-- {
			devices[j], devices[j-1] = devices[j-1], devices[j]
		}
	}
}

// normalizeSpeed converts a "1234.5 MH/s" reading to hashes/second.
func normalizeSpeed(val float64, unit string) float64 {
	switch {
	case strings.HasPrefix(unit, "k"):
		return val * 1e3
	case strings.HasPrefix(unit, "M"):
		return val * 1e6
	case strings.HasPrefix(unit, "G"):
		return val * 1e9
	case strings.HasPrefix(unit, "T"):
		return val * 1e12
	default:
		return val
	}
}

// statusCodeLabels maps the binary's --status-json status codes to
// their human labels.
var statusCodeLabels = map[int]string{
	0:  "Initializing",
	1:  "Autotuning",
	2:  "Selftest",
	3:  "Running",
	4:  "Paused",
	5:  "Exhausted",
	6:  "Cracked",
	7:  "Aborted",
	8:  "Quit",
	9:  "Bypass",
	10: "Aborted (Checkpoint)",
	11: "Aborted (Runtime)",
	12: "Error",
}

type jsonStatus struct {
	Status          int      `json:"status"`
	Progress        []int64  `json:"progress"`
	RecoveredHashes []int    `json:"recovered_hashes"`
	TimeStart       int64    `json:"time_start"`
	EstimatedStop   int64    `json:"estimated_stop"`
	Devices         []struct {
		DeviceID int     `json:"device_id"`
		Speed    float64 `json:"speed"`
		Temp     int     `json:"temp"`
		Util     int     `json:"util"`
	} `json:"devices"`
}

// ParseJSON decodes one --status-json blob into a [Status].
func ParseJSON(data []byte) (Status, error) {
	var js jsonStatus

	if err := json.Unmarshal(data, &js); err != nil {
		return Status{}, fmt.Errorf("decoding status json: %w", err)
	}

	st := Status{Label: statusCodeLabels[js.Status]}

	if len(js.Progress) == 2 {
		st.ProgressCur, st.ProgressTotal = js.Progress[0], js.Progress[1]
		if st.ProgressTotal > 0 {
			st.ProgressPct = float64(st.ProgressCur) / float64(st.ProgressTotal) * 100
		}
	}

	if len(js.RecoveredHashes) == 2 {
		st.Recovered, st.RecoveredTotal = js.RecoveredHashes[0], js.RecoveredHashes[1]
		if st.RecoveredTotal > 0 {
			st.RecoveredPct = float64(st.Recovered) / float64(st.RecoveredTotal) * 100
		}
	}

	if js.TimeStart > 0 {
		st.TimeStarted = strconv.FormatInt(js.TimeStart, 10)
	}

	if js.EstimatedStop > 0 {
		st.TimeEstimated = strconv.FormatInt(js.EstimatedStop, 10)
	}

	for _, d := range js.Devices {
		st.Devices = append(st.Devices, DeviceStatus{ID: d.DeviceID, SpeedHs: d.Speed, Temp: d.Temp, Util: d.Util})
	}

	return st, nil
}
