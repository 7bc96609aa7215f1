package test

import (
	"context"
	"errors"

	goTrust "github.com/MrEthical07/goTrust"
	"github.com/MrEthical07/goTrust/device"
	"github.com/MrEthical07/goTrust/store/badgerstore"
	"github.com/redis/go-redis/v9"
)

// ExampleNew demonstrates engine construction with production-style dependencies.
func ExampleNew() {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	st, err := badgerstore.Open(badgerstore.DefaultOptions("data/gotrust"))
	if err != nil {
		return
	}
	defer st.Close()

	cfg := goTrust.DefaultConfig()
	cfg.Region = "us-east"
	cfg.MFA.SecretKey = []byte("0123456789abcdef0123456789abcdef")

	engine, err := goTrust.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithStore(st).
		Build()
	if err != nil {
		return
	}
	defer engine.Close()
}

// ExampleEngine_EvaluateLogin shows the post-credential risk check feeding
// session creation.
func ExampleEngine_EvaluateLogin() {
	var engine *goTrust.Engine
	ctx := context.Background()

	res, err := engine.EvaluateLogin(ctx, goTrust.LoginAttempt{
		Identity:  "alice",
		Request:   device.Request{IP: "198.51.100.20", UserAgent: "Mozilla/5.0"},
		Succeeded: true,
	})
	if err != nil || res.Blocked {
		return
	}
	_, err = engine.CreateSession(ctx, goTrust.CreateSessionRequest{
		Identity:   "alice",
		Context:    res.SessionContext(nil),
		MFAPending: res.RequireMFA,
	})
	var denied *goTrust.PolicyDeniedError
	if errors.As(err, &denied) {
		_ = denied.Reason
	}
}

// ExampleEngine_MetricsSnapshot shows how to read in-process metrics counters.
func ExampleEngine_MetricsSnapshot() {
	var engine *goTrust.Engine
	snapshot := engine.MetricsSnapshot()
	_ = snapshot.Counters[goTrust.MetricSessionCreated]
}
