package redis_test

import (
	"context"
	"testing"
	"time"

	"hookguard/internal/telemetry"
	"hookguard/internal/testutil"
	hgredis "hookguard/internal/transport/redis"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestEnvelope(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	env, err := hgredis.Envelope(hgredis.KindAttack, "agent-1", at, []byte(`{"rule_name":"sqli"}`))
	require.NoError(t, err)

	res := gjson.ParseBytes(env)
	assert.Equal(t, "attack", res.Get("kind").String())
	assert.Equal(t, "agent-1", res.Get("agent").String())
	assert.Equal(t, int64(1700000000123), res.Get("sent_at").Int())
	assert.Equal(t, "sqli", res.Get("data.rule_name").String())

	_, err = hgredis.Envelope(hgredis.KindMetric, "", at, []byte(`{broken`))
	assert.Error(t, err)

	env, err = hgredis.Envelope(hgredis.KindMetric, "", at, []byte(`[]`))
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(env, "agent").Exists())
}

func TestSink_PushesEnvelopes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	client := testutil.SetupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	prefix := "hookguard-test:" + uuid.NewString()
	s := hgredis.NewSink(client, hgredis.Options{Key: prefix, Agent: "unit", MaxLen: 2})
	t.Cleanup(func() { client.Del(context.Background(), s.AttacksKey(), s.MetricsKey()) })

	attacks := []telemetry.AttackEvent{{RuleName: "a"}, {RuleName: "b"}, {RuleName: "c"}}
	require.NoError(t, s.SendAttacks(ctx, attacks))
	require.NoError(t, s.SendMetrics(ctx, []telemetry.MetricBatch{{Name: "m", Values: map[string]int64{"k": 3}}}))

	items, err := client.LRange(ctx, s.AttacksKey(), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, items, 2, "超出 MaxLen 时保留最新的元素")
	assert.Equal(t, "b", gjson.Get(items[0], "data.rule_name").String())
	assert.Equal(t, "c", gjson.Get(items[1], "data.rule_name").String())

	metrics, err := client.LRange(ctx, s.MetricsKey(), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, int64(3), gjson.Get(metrics[0], "data.values.k").Int())
	assert.Equal(t, "metric", gjson.Get(metrics[0], "kind").String())
}
