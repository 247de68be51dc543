package classify

import (
	"regexp"
	"strings"
	"sync"

	"shrike/internal/config"
	"shrike/internal/domain"
	"shrike/internal/metrics"

	"github.com/charmbracelet/log"
)

// Rule names recognized in the pipeline_rules / detector_rules settings.
const (
	RuleMaliciousPath = "malicious_path"
	RuleExcessive404  = "excessive_404"
	RuleHostingOrigin = "hosting_origin"
	RuleVolume        = "volume"
	RuleUserAgent     = "user_agent"
	RuleGeoAnomaly    = "geo_anomaly"
)

const (
	ReasonMaliciousPath = "malicious path scan"
	ReasonExcessive404  = "multiple 404 requests"
	ReasonHostingOrigin = "VPN/proxy/hosting origin"
	ReasonVolume        = "request volume exceeded"
	ReasonUserAgent     = "scanner user-agent"
	ReasonGeoAnomaly    = "geo anomaly"
)

const (
	defaultNotFoundThreshold = 5
	defaultVolumeThreshold   = 100
)

// Verdict is the outcome of classifying one request record.
type Verdict struct {
	Suspicious bool
	Reason     string
}

type ruleFunc func(e *Engine, cfg config.Config, rec *domain.VisitLog) bool

var ruleSet = map[string]struct {
	eval   ruleFunc
	reason string
}{
	RuleMaliciousPath: {evalMaliciousPath, ReasonMaliciousPath},
	RuleExcessive404:  {evalExcessive404, ReasonExcessive404},
	RuleHostingOrigin: {evalHostingOrigin, ReasonHostingOrigin},
	RuleVolume:        {evalVolume, ReasonVolume},
	RuleUserAgent:     {evalUserAgent, ReasonUserAgent},
	RuleGeoAnomaly:    {evalGeoAnomaly, ReasonGeoAnomaly},
}

// Engine evaluates an enriched request record against an ordered set of
// rules. Rules run independently; every matching rule is counted, the first
// match supplies the reason. One engine instance serves the tailer pipeline,
// a second one with its own rule list serves the anomaly detector.
type Engine struct {
	counters *CounterStore
	rules    []string

	patternMu    sync.Mutex
	agentPattern string
	agentRegexp  *regexp.Regexp
}

// NewEngine builds an engine running the named rules in order. Unknown rule
// names are skipped with a warning so a settings typo cannot take down the
// pipeline.
func NewEngine(counters *CounterStore, rules []string) *Engine {
	kept := make([]string, 0, len(rules))
	for _, name := range rules {
		if _, ok := ruleSet[name]; !ok {
			log.Warn("Ignoring unknown classification rule", "rule", name)
			continue
		}
		kept = append(kept, name)
	}
	return &Engine{counters: counters, rules: kept}
}

// Classify returns the suspicion verdict for rec. Allow-listed IPs are never
// suspicious, regardless of which rules would fire.
func (e *Engine) Classify(rec *domain.VisitLog) Verdict {
	cfg := config.GetConfig()

	if isAllowListed(rec.IP, cfg.Rules.AllowedIPs) {
		return Verdict{}
	}

	verdict := Verdict{}
	for _, name := range e.rules {
		rule := ruleSet[name]
		if !rule.eval(e, cfg, rec) {
			continue
		}
		metrics.RuleHits.WithLabelValues(name).Inc()
		if !verdict.Suspicious {
			verdict = Verdict{Suspicious: true, Reason: rule.reason}
		}
	}
	return verdict
}

func isAllowListed(ip string, allowed []string) bool {
	for _, candidate := range allowed {
		if candidate == ip {
			return true
		}
	}
	return false
}

func evalMaliciousPath(_ *Engine, cfg config.Config, rec *domain.VisitLog) bool {
	path := strings.ToLower(rec.Path)
	for _, entry := range cfg.Rules.MaliciousPaths {
		if entry == "" {
			continue
		}
		if strings.Contains(path, strings.ToLower(entry)) {
			return true
		}
	}
	return false
}

func evalExcessive404(e *Engine, cfg config.Config, rec *domain.VisitLog) bool {
	if rec.Status != 404 {
		return false
	}

	threshold := cfg.Rules.NotFoundThreshold
	if threshold <= 0 {
		threshold = defaultNotFoundThreshold
	}

	if e.counters.IncNotFound(rec.IP) < threshold {
		return false
	}
	e.counters.ResetNotFound(rec.IP)
	return true
}

func evalHostingOrigin(_ *Engine, cfg config.Config, rec *domain.VisitLog) bool {
	if rec.ASNOrg == nil || *rec.ASNOrg == "" {
		return false
	}

	org := strings.ToLower(*rec.ASNOrg)
	if strings.Contains(org, "vpn") || strings.Contains(org, "proxy") {
		return true
	}
	for _, brand := range cfg.Rules.HostingKeywords {
		if brand == "" {
			continue
		}
		if strings.Contains(org, strings.ToLower(brand)) {
			return true
		}
	}
	return false
}

func evalVolume(e *Engine, cfg config.Config, rec *domain.VisitLog) bool {
	threshold := cfg.Rules.VolumeThreshold
	if threshold <= 0 {
		threshold = defaultVolumeThreshold
	}
	return e.counters.IncTotal(rec.IP) > threshold
}

func evalUserAgent(e *Engine, cfg config.Config, rec *domain.VisitLog) bool {
	subject := strings.TrimSpace(rec.Browser + " " + rec.OS)
	if subject == "" {
		subject = rec.UserAgent
	}
	if subject == "" {
		return false
	}

	pattern := cfg.Rules.AgentPattern
	if pattern == "" {
		return false
	}

	re := e.compiledAgentPattern(pattern)
	if re == nil {
		return false
	}
	return re.MatchString(subject)
}

func evalGeoAnomaly(_ *Engine, cfg config.Config, rec *domain.VisitLog) bool {
	if rec.Country == "" {
		return true
	}
	for _, flagged := range cfg.Rules.FlaggedCountries {
		if strings.EqualFold(flagged, rec.Country) {
			return true
		}
	}
	return false
}

// compiledAgentPattern caches the compiled scanner regexp and recompiles only
// when the configured pattern changes.
func (e *Engine) compiledAgentPattern(pattern string) *regexp.Regexp {
	e.patternMu.Lock()
	defer e.patternMu.Unlock()

	if e.agentRegexp != nil && e.agentPattern == pattern {
		return e.agentRegexp
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		log.Warn("Invalid scanner user-agent pattern", "pattern", pattern, "error", err)
		return nil
	}
	e.agentPattern = pattern
	e.agentRegexp = re
	return re
}
