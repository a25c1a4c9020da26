package router

import (
	"fmt"

	"github.com/revops-ai/tracecompact/pkg/config"
	"github.com/revops-ai/tracecompact/pkg/models"
	"github.com/revops-ai/tracecompact/pkg/rewriter"
)

// TypeKeys are the top-level record keys consulted, in order, to determine
// a record's type.
var TypeKeys = []string{"type", "agent"}

// Route is the rewriter selected for a record.
type Route struct {
	// Rule is the matched record type, or "" for the default route.
	Rule     string
	Rewriter *rewriter.Rewriter
}

// Router resolves trace records to the rewriter configured for their type.
type Router struct {
	fallback Route
	byType   map[string]Route
}

// New builds a Router from the rewriter configuration. All routes share cache.
func New(cfg config.RewriterConfig, cache rewriter.Interner) (*Router, error) {
	if len(rewriter.SplitPath(cfg.Field)) == 0 {
		return nil, fmt.Errorf("rewriter field %q is empty", cfg.Field)
	}
	r := &Router{
		fallback: Route{
			Rewriter: rewriter.New(cache,
				rewriter.WithField(cfg.Field),
				rewriter.WithRefField(cfg.RefField)),
		},
		byType: make(map[string]Route, len(cfg.Rules)),
	}

	for _, rule := range cfg.Rules {
		if rule.Type == "" {
			return nil, fmt.Errorf("rewrite rule has no type")
		}
		if _, dup := r.byType[rule.Type]; dup {
			return nil, fmt.Errorf("rewrite rule %q defined twice", rule.Type)
		}
		// Unset rule fields inherit the default location.
		field, ref := rule.Field, rule.RefField
		if field == "" {
			field = cfg.Field
		}
		if ref == "" {
			ref = cfg.RefField
		}
		r.byType[rule.Type] = Route{
			Rule: rule.Type,
			Rewriter: rewriter.New(cache,
				rewriter.WithField(field),
				rewriter.WithRefField(ref)),
		}
	}
	return r, nil
}

// Resolve returns the route for record. Records whose type matches no rule
// use the default route.
func (r *Router) Resolve(record models.TraceRecord) Route {
	for _, key := range TypeKeys {
		t := record.Str(key)
		if t == "" {
			continue
		}
		if route, ok := r.byType[t]; ok {
			return route
		}
	}
	return r.fallback
}

// Process routes record and rewrites it.
func (r *Router) Process(record models.TraceRecord) (models.TraceRecord, string, error) {
	return r.Resolve(record).Rewriter.Process(record)
}
