package job

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hexDigest = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestFingerprintShape(t *testing.T) {
	fp := Fingerprint("report", FrequencyDaily, "", map[string]interface{}{"target": "s3"})

	assert.True(t, hexDigest.MatchString(fp), "expected 64 lowercase hex chars, got %q", fp)
}

func TestFingerprintIgnoresKeyOrder(t *testing.T) {
	a := map[string]interface{}{
		"alpha": 1,
		"beta":  "x",
		"nested": map[string]interface{}{
			"z": true,
			"a": []interface{}{"one", "two"},
		},
	}
	b := map[string]interface{}{
		"nested": map[string]interface{}{
			"a": []interface{}{"one", "two"},
			"z": true,
		},
		"beta":  "x",
		"alpha": 1,
	}

	assert.Equal(t,
		Fingerprint("job", FrequencyWeekly, "", a),
		Fingerprint("job", FrequencyWeekly, "", b))
}

func TestFingerprintTrimsStringValues(t *testing.T) {
	a := map[string]interface{}{
		"note":   "  hello  ",
		"nested": map[string]interface{}{"deep": "world\n"},
	}
	b := map[string]interface{}{
		"note":   "hello",
		"nested": map[string]interface{}{"deep": "world"},
	}

	assert.Equal(t,
		Fingerprint("job", FrequencyOnce, "", a),
		Fingerprint("job", FrequencyOnce, "", b))
}

func TestFingerprintSensitivity(t *testing.T) {
	base := map[string]interface{}{"target": "s3", "count": float64(3)}
	fp := Fingerprint("job", FrequencyDaily, "", base)

	changedValue := map[string]interface{}{"target": "gcs", "count": float64(3)}
	changedNumber := map[string]interface{}{"target": "s3", "count": float64(4)}
	extraKey := map[string]interface{}{"target": "s3", "count": float64(3), "extra": nil}

	assert.NotEqual(t, fp, Fingerprint("job", FrequencyDaily, "", changedValue))
	assert.NotEqual(t, fp, Fingerprint("job", FrequencyDaily, "", changedNumber))
	assert.NotEqual(t, fp, Fingerprint("job", FrequencyDaily, "", extraKey))
}

func TestFingerprintIdentityFieldsMatter(t *testing.T) {
	data := map[string]interface{}{"k": "v"}

	fp := Fingerprint("job", FrequencyDaily, "", data)

	assert.NotEqual(t, fp, Fingerprint("job2", FrequencyDaily, "", data))
	assert.NotEqual(t, fp, Fingerprint("job", FrequencyWeekly, "", data))
	assert.NotEqual(t, fp, Fingerprint("job", FrequencyCustom, "0 0 * * *", data))
}

func TestFingerprintDelimitersInNameDoNotCollide(t *testing.T) {
	data := map[string]interface{}{"k": "v"}

	// Without quoting, the first pair's name would serialize to the same
	// canonical string as the second pair's name plus cron expression.
	a := Fingerprint(`a|frequency=ONCE|cron=b`, FrequencyOnce, "c", data)
	b := Fingerprint("a", FrequencyOnce, `b|frequency=ONCE|cron=c`, data)

	assert.NotEqual(t, a, b)
}

func TestFingerprintNilAndEmptyDataDiffer(t *testing.T) {
	require.NotEqual(t,
		Fingerprint("job", FrequencyOnce, "", nil),
		Fingerprint("job", FrequencyOnce, "", map[string]interface{}{"k": nil}))
}

func TestFingerprintArraysPreserveOrder(t *testing.T) {
	a := map[string]interface{}{"steps": []interface{}{"build", "deploy"}}
	b := map[string]interface{}{"steps": []interface{}{"deploy", "build"}}

	assert.NotEqual(t,
		Fingerprint("job", FrequencyOnce, "", a),
		Fingerprint("job", FrequencyOnce, "", b))
}

func TestFingerprintStable(t *testing.T) {
	data := map[string]interface{}{"a": float64(1), "b": []interface{}{nil, "x", true}}

	first := Fingerprint("stable", FrequencyMonthly, "", data)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Fingerprint("stable", FrequencyMonthly, "", data))
	}
}
