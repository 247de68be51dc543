package classify

import (
	"testing"

	"shrike/internal/config"
	"shrike/internal/domain"
)

func setupRulesConfig(t *testing.T) {
	t.Helper()

	var cfg config.Config
	cfg.Rules.MaliciousPaths = []string{"/wp-admin/setup-config.php", "/phpmyadmin/"}
	cfg.Rules.AllowedIPs = []string{"10.9.9.9"}
	cfg.Rules.FlaggedCountries = []string{"CN", "RU"}
	cfg.Rules.HostingKeywords = []string{"aws", "google", "digitalocean"}
	cfg.Rules.AgentPattern = "curl|bot|crawler"
	cfg.Rules.NotFoundThreshold = 5
	cfg.Rules.VolumeThreshold = 100

	config.SetConfigForTests(cfg)
	t.Cleanup(func() { config.SetConfigForTests(config.Config{}) })
}

func strPtr(s string) *string { return &s }

func okRecord(ip string) *domain.VisitLog {
	return &domain.VisitLog{
		IP:      ip,
		Path:    "/",
		Status:  200,
		Browser: "Chrome",
		OS:      "Windows",
		Country: "DE",
	}
}

func TestMaliciousPathRule(t *testing.T) {
	setupRulesConfig(t)
	engine := NewEngine(NewCounterStore(), []string{RuleMaliciousPath})

	cases := []struct {
		name string
		path string
		want bool
	}{
		{"direct hit", "/wp-admin/setup-config.php", true},
		{"case insensitive", "/WP-Admin/Setup-Config.PHP", true},
		{"decoded traversal target", "/phpmyadmin/index.php", true},
		{"benign path", "/blog/post-1", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := okRecord("1.2.3.4")
			rec.Path = tc.path
			verdict := engine.Classify(rec)
			if verdict.Suspicious != tc.want {
				t.Fatalf("Classify(%q).Suspicious = %v, want %v", tc.path, verdict.Suspicious, tc.want)
			}
			if tc.want && verdict.Reason != ReasonMaliciousPath {
				t.Fatalf("reason = %q, want %q", verdict.Reason, ReasonMaliciousPath)
			}
		})
	}
}

func TestExcessive404FiresOnceAndResets(t *testing.T) {
	setupRulesConfig(t)
	counters := NewCounterStore()
	engine := NewEngine(counters, []string{RuleExcessive404})

	rec := okRecord("5.6.7.8")
	rec.Status = 404

	for i := 1; i <= 4; i++ {
		if verdict := engine.Classify(rec); verdict.Suspicious {
			t.Fatalf("request %d should not fire the rule", i)
		}
	}

	verdict := engine.Classify(rec)
	if !verdict.Suspicious || verdict.Reason != ReasonExcessive404 {
		t.Fatalf("request 5 verdict = %+v, want excessive 404", verdict)
	}

	// Counter was reset when the rule fired, so the next 404 starts at one.
	if verdict := engine.Classify(rec); verdict.Suspicious {
		t.Fatal("request after the rule fired should start a fresh count")
	}
}

func Test404CounterIgnoresOtherStatuses(t *testing.T) {
	setupRulesConfig(t)
	engine := NewEngine(NewCounterStore(), []string{RuleExcessive404})

	rec := okRecord("5.6.7.9")
	for i := 0; i < 20; i++ {
		if verdict := engine.Classify(rec); verdict.Suspicious {
			t.Fatal("200 responses must not advance the 404 counter")
		}
	}
}

func TestHostingOriginRule(t *testing.T) {
	setupRulesConfig(t)
	engine := NewEngine(NewCounterStore(), []string{RuleHostingOrigin})

	cases := []struct {
		name string
		org  *string
		want bool
	}{
		{"vpn provider", strPtr("SuperVPN Networks Ltd"), true},
		{"vpn any case", strPtr("EXPRESSVPN"), true},
		{"proxy provider", strPtr("Open Proxy Carrier"), true},
		{"hosting brand", strPtr("DigitalOcean, LLC"), true},
		{"residential isp", strPtr("Deutsche Telekom AG"), false},
		{"no org data", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := okRecord("9.8.7.6")
			rec.ASNOrg = tc.org
			verdict := engine.Classify(rec)
			if verdict.Suspicious != tc.want {
				t.Fatalf("Suspicious = %v, want %v", verdict.Suspicious, tc.want)
			}
			if tc.want && verdict.Reason != ReasonHostingOrigin {
				t.Fatalf("reason = %q, want %q", verdict.Reason, ReasonHostingOrigin)
			}
		})
	}
}

func TestAllowListedIPNeverSuspicious(t *testing.T) {
	setupRulesConfig(t)
	engine := NewEngine(NewCounterStore(), []string{
		RuleMaliciousPath, RuleExcessive404, RuleHostingOrigin, RuleUserAgent, RuleGeoAnomaly,
	})

	rec := okRecord("10.9.9.9")
	rec.Path = "/wp-admin/setup-config.php"
	rec.Status = 404
	rec.ASNOrg = strPtr("NordVPN S.A.")
	rec.Browser = "curl"
	rec.Country = ""

	for i := 0; i < 10; i++ {
		if verdict := engine.Classify(rec); verdict.Suspicious {
			t.Fatalf("allow-listed IP classified suspicious: %+v", verdict)
		}
	}
}

func TestVolumeRule(t *testing.T) {
	setupRulesConfig(t)
	counters := NewCounterStore()
	engine := NewEngine(counters, []string{RuleVolume})

	rec := okRecord("44.44.44.44")
	for i := 1; i <= 100; i++ {
		if verdict := engine.Classify(rec); verdict.Suspicious {
			t.Fatalf("request %d should be under the volume threshold", i)
		}
	}

	verdict := engine.Classify(rec)
	if !verdict.Suspicious || verdict.Reason != ReasonVolume {
		t.Fatalf("request 101 verdict = %+v, want volume hit", verdict)
	}

	// Counters drop when the IP gets blocked.
	counters.Reset(rec.IP)
	if verdict := engine.Classify(rec); verdict.Suspicious {
		t.Fatal("counter reset should restart volume accounting")
	}
}

func TestUserAgentRule(t *testing.T) {
	setupRulesConfig(t)
	engine := NewEngine(NewCounterStore(), []string{RuleUserAgent})

	cases := []struct {
		name    string
		browser string
		os      string
		raw     string
		want    bool
	}{
		{"curl browser", "curl", "", "", true},
		{"crawler in os field", "Mozilla", "CrawlerOS", "", true},
		{"raw fallback", "", "", "some-bot/1.0", true},
		{"regular browser", "Firefox", "Linux", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := okRecord("3.3.3.3")
			rec.Browser = tc.browser
			rec.OS = tc.os
			rec.UserAgent = tc.raw
			if verdict := engine.Classify(rec); verdict.Suspicious != tc.want {
				t.Fatalf("Suspicious = %v, want %v", verdict.Suspicious, tc.want)
			}
		})
	}
}

func TestGeoAnomalyRule(t *testing.T) {
	setupRulesConfig(t)
	engine := NewEngine(NewCounterStore(), []string{RuleGeoAnomaly})

	cases := []struct {
		name    string
		country string
		want    bool
	}{
		{"missing country", "", true},
		{"flagged country", "CN", true},
		{"flagged lowercase", "ru", true},
		{"ordinary country", "SE", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := okRecord("2.2.2.2")
			rec.Country = tc.country
			if verdict := engine.Classify(rec); verdict.Suspicious != tc.want {
				t.Fatalf("Suspicious = %v, want %v", verdict.Suspicious, tc.want)
			}
		})
	}
}

func TestFirstMatchingRuleSuppliesReason(t *testing.T) {
	setupRulesConfig(t)
	engine := NewEngine(NewCounterStore(), []string{RuleMaliciousPath, RuleUserAgent})

	rec := okRecord("6.6.6.6")
	rec.Path = "/phpmyadmin/"
	rec.Browser = "curl"

	verdict := engine.Classify(rec)
	if !verdict.Suspicious {
		t.Fatal("record should be suspicious")
	}
	if verdict.Reason != ReasonMaliciousPath {
		t.Fatalf("reason = %q, want first rule's %q", verdict.Reason, ReasonMaliciousPath)
	}
}

func TestUnknownRuleNamesAreSkipped(t *testing.T) {
	setupRulesConfig(t)
	engine := NewEngine(NewCounterStore(), []string{"no_such_rule", RuleGeoAnomaly})

	rec := okRecord("7.7.7.7")
	rec.Country = "CN"
	if verdict := engine.Classify(rec); !verdict.Suspicious {
		t.Fatal("known rule after unknown name should still run")
	}
}
