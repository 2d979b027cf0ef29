package tenure

import (
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var propertyCodes = []string{"A", "B", "NM", "L", "X"}

// buildHistory arma un historial del más nuevo al más viejo a partir de
// índices de código y separaciones en días.
func buildHistory(codes []int, gaps []int) []ChangeEvent {
	n := len(codes)
	if len(gaps) < n {
		n = len(gaps)
	}
	out := make([]ChangeEvent, 0, n)
	at := testNow
	current := "A"
	for i := 0; i < n; i++ {
		at = at.Add(-time.Duration(gaps[i]) * 24 * time.Hour)
		previous := propertyCodes[codes[i]%len(propertyCodes)]
		// hacia atrás: el evento pasa de "previous" a lo que veníamos viendo
		out = append(out, ChangeEvent{ChangedAt: at, OriginalValue: previous, NewValue: current})
		current = previous
	}
	return out
}

func TestInferProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	codesGen := gen.SliceOf(gen.IntRange(0, len(propertyCodes)-1))
	gapsGen := gen.SliceOf(gen.IntRange(1, 400))

	properties.Property("inference is deterministic", prop.ForAll(
		func(codes []int, gaps []int, withJoin bool) bool {
			in := input(buildHistory(codes, gaps)...)
			in.Settings.GracePeriods = []GracePeriod{{Start: day("2021-01-01"), End: day("2022-01-01")}}
			if withJoin {
				in.OriginalJoinDate = dayPtr("2005-05-05")
			}
			return reflect.DeepEqual(Infer(in), Infer(in))
		},
		codesGen, gapsGen, gen.Bool(),
	))

	properties.Property("no consecutive new value and no join date is unresolved", prop.ForAll(
		func(codes []int, gaps []int) bool {
			h := buildHistory(codes, gaps)
			for i := range h {
				if h[i].NewValue == "A" || h[i].NewValue == "B" {
					h[i].NewValue = "L"
				}
			}
			res := Infer(input(h...))
			return !res.Resolved && res.CorrectedJoinDate == nil
		},
		codesGen, gapsGen,
	))

	properties.Property("since is never after now", prop.ForAll(
		func(codes []int, gaps []int) bool {
			res := Infer(input(buildHistory(codes, gaps)...))
			return !res.Resolved || !res.Since.After(testNow)
		},
		codesGen, gapsGen,
	))

	properties.Property("a valid join date without break or join marker wins", prop.ForAll(
		func(codes []int, gaps []int) bool {
			in := input(buildHistory(codes, gaps)...)
			in.OriginalJoinDate = dayPtr("2005-05-05")
			res := Infer(in)
			if res.Broken || res.JoinMarker != nil {
				return true
			}
			return res.Resolved && res.Since.Equal(day("2005-05-05")) && res.CorrectedJoinDate == nil
		},
		codesGen, gapsGen,
	))

	properties.TestingRun(t)
}
