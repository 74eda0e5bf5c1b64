package metrics

import (
	"context"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// MethodTracer is a New Relic segment covering one method call. A nil
// *MethodTracer is returned when the context has no transaction and every
// method on it is a no-op.
type MethodTracer struct {
	txn     *newrelic.Transaction
	segment *newrelic.Segment
}

// TraceMethodCall starts a segment named "<component> <method>" in the
// transaction carried by ctx.
func TraceMethodCall(ctx context.Context, component, method string) *MethodTracer {
	txn := newrelic.FromContext(ctx)
	if txn == nil {
		return nil
	}
	return &MethodTracer{
		txn:     txn,
		segment: txn.StartSegment(component + " " + method),
	}
}

func (t *MethodTracer) AddAttribute(key string, value interface{}) {
	if t == nil {
		return
	}
	t.segment.AddAttribute(key, value)
}

func (t *MethodTracer) AddAttributes(attributes map[string]interface{}) {
	if t == nil {
		return
	}
	for key, value := range attributes {
		t.segment.AddAttribute(key, value)
	}
}

// OnError reports err on the enclosing transaction. Nil errors are ignored.
func (t *MethodTracer) OnError(err error) {
	if t != nil && err != nil {
		t.txn.NoticeError(err)
	}
}

func (t *MethodTracer) End() {
	if t != nil {
		t.segment.End()
	}
}
