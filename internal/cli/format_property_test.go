package cli

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

var usdPattern = regexp.MustCompile(`^-?\$\d{1,3}(,\d{3})*\.\d{2}$`)

// For any amount, FormatUSD groups thousands by three, keeps two decimals
// and round-trips to the amount rounded to cents.
func TestProperty_USDFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("FormatUSD is well formed and preserves value", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatUSD(amount)
			if !usdPattern.MatchString(formatted) {
				t.Logf("malformed %q for %f", formatted, amount)
				return false
			}
			plain := strings.NewReplacer("$", "", ",", "").Replace(formatted)
			parsed, err := strconv.ParseFloat(plain, 64)
			if err != nil {
				return false
			}
			return math.Abs(parsed-amount) <= 0.005+1e-9*math.Abs(amount)
		},
		gen.Float64Range(-1e12, 1e12),
	))

	properties.Property("FormatPnL signs gains", prop.ForAll(
		func(amount float64) bool {
			s := FormatPnL(amount)
			switch {
			case amount >= 0.005:
				return strings.HasPrefix(s, "+$")
			case amount <= -0.005:
				return strings.HasPrefix(s, "-$")
			}
			return true
		},
		gen.Float64Range(-1e9, 1e9),
	))

	properties.TestingRun(t)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "$0.00", FormatUSD(0))
	assert.Equal(t, "$0.00", FormatUSD(-0.001))
	assert.Equal(t, "$999.99", FormatUSD(999.99))
	assert.Equal(t, "$1,000.00", FormatUSD(1000))
	assert.Equal(t, "-$12,345,678.90", FormatUSD(-12345678.9))
	assert.Equal(t, "+$5.50", FormatPnL(5.5))

	assert.Equal(t, "+1.50%", FormatPercent(1.5))
	assert.Equal(t, "-2.00%", FormatPercent(-2))
	assert.Equal(t, "25.0%", FormatFraction(0.25))

	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KiB", FormatBytes(1536))
	assert.Equal(t, "200.0 MiB", FormatBytes(200*1024*1024))

	assert.Equal(t, "-", FormatDuration(0))
	assert.Equal(t, "42s", FormatDuration(42*time.Second))
	assert.Equal(t, "5m", FormatDuration(5*time.Minute))
	assert.Equal(t, "3h 20m", FormatDuration(3*time.Hour+20*time.Minute))
	assert.Equal(t, "2d 4h", FormatDuration(52*time.Hour))
}
