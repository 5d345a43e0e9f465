package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpandShardURL(t *testing.T) {
	tt := []struct {
		name string
		url  string

		expected []string
	}{
		{
			name: "range",
			url:  "https://prs-bp[1-2].press.one/api/chain",

			expected: []string{
				"https://prs-bp1.press.one/api/chain",
				"https://prs-bp2.press.one/api/chain",
			},
		},
		{
			name: "single url",
			url:  "https://prs-bp1.press.one/api/chain",

			expected: []string{"https://prs-bp1.press.one/api/chain"},
		},
		{
			name: "single shard range",
			url:  "https://bp[4-4].press.one",

			expected: []string{"https://bp4.press.one"},
		},
		{
			name: "malformed range kept verbatim",
			url:  "https://bp[a-b].press.one",

			expected: []string{"https://bp[a-b].press.one"},
		},
		{
			name: "reversed range kept verbatim",
			url:  "https://bp[3-1].press.one",

			expected: []string{"https://bp[3-1].press.one"},
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, ExpandShardURL(tc.url))
		})
	}
}

func TestTopicLookup(t *testing.T) {
	cfg := &AtomConfig{
		Topics: []*TopicConfig{
			{Topic: "b6b17424", Webhook: "https://xue-pub.example.com/api/webhook/medium"},
			{Topic: "a7b751cc", Webhook: "https://box-pub.example.com/api/webhook/medium"},
		},
	}

	tc, ok := cfg.Topic("a7b751cc")
	require.True(t, ok)
	require.Equal(t, "https://box-pub.example.com/api/webhook/medium", tc.Webhook)

	_, ok = cfg.Topic("unknown")
	require.False(t, ok)

	require.Equal(t, []string{"b6b17424", "a7b751cc"}, cfg.TopicNames())
}

func TestEncryptionKeyBytes(t *testing.T) {
	tc := &TopicConfig{EncryptionKey: "ed2fa6ccba843a27f9b1272e0f02a36bdbfb1a35e334ba4a3f37b4ff3c0f7c17"}
	key, err := tc.EncryptionKeyBytes()
	require.NoError(t, err)
	require.Len(t, key, 32)

	tc = &TopicConfig{EncryptionKey: "abcd"}
	_, err = tc.EncryptionKeyBytes()
	require.ErrorIs(t, err, ErrInvalidEncryption)

	tc = &TopicConfig{EncryptionKey: "zz"}
	_, err = tc.EncryptionKeyBytes()
	require.ErrorIs(t, err, ErrInvalidEncryption)
}
