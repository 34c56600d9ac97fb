package i18n

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestMatch(t *testing.T) {
	cases := map[string]language.Tag{
		"":           language.English,
		"en":         language.English,
		"en-GB":      language.English,
		"zh-CN":      language.Chinese,
		"zh-Hans":    language.Chinese,
		"fr":         language.English,
		"not a tag!": language.English,
	}
	for locale, want := range cases {
		assert.Equal(t, want, Match(locale), "locale %q", locale)
	}
}

func TestTextSubstitutesPositionalArgs(t *testing.T) {
	c, err := New("en", nil)
	require.NoError(t, err)

	assert.Equal(t, "abc1234 at noon", c.Text("CommitAt", "abc1234", "noon"))
	assert.Equal(t, "Fetching log of check run 42", c.Text("FetchingLog", "42"))
	assert.Equal(t, "NoSuchKey", c.Text("NoSuchKey", "ignored"))
}

func TestOverridesReplaceBundledTexts(t *testing.T) {
	c, err := New("zh-CN", map[string]string{"CommitAt": "{1} / {0}"})
	require.NoError(t, err)

	assert.Equal(t, "noon / abc", c.Text("CommitAt", "abc", "noon"))
	assert.Equal(t, "日志已被清理。", c.Text("LogCleanedUp"))
}

func TestFormatTimePerLocale(t *testing.T) {
	ts := time.Date(2024, 3, 1, 15, 4, 5, 0, time.UTC)

	en, err := New("en", nil)
	require.NoError(t, err)
	assert.Equal(t, "Mar 1, 2024, 3:04:05 PM", en.WithLocation(time.UTC).FormatTime(ts))

	zh, err := New("zh", nil)
	require.NoError(t, err)
	assert.Equal(t, "2024/3/1 15:04:05", zh.WithLocation(time.UTC).FormatTime(ts))
}
