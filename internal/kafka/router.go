package kafka

import (
	"context"

	"go.uber.org/zap"
)

// Router memetakan topic -> producer, implementasi port settlement.Publisher.
// Topic yang tidak terdaftar cuma di-log, bukan error: publish di sini memang
// best-effort.
type Router struct {
	producers map[string]*Producer
	log       *zap.Logger
}

func NewRouter(brokers []string, topics []string, buf int, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Router{producers: make(map[string]*Producer, len(topics)), log: log}
	for _, t := range topics {
		r.producers[t] = NewProducer(brokers, t, buf, log)
	}
	return r
}

func (r *Router) Start(ctx context.Context) {
	for _, p := range r.producers {
		p.Start(ctx)
	}
}

func (r *Router) Publish(topic string, key, value []byte) {
	p, ok := r.producers[topic]
	if !ok {
		r.log.Warn("publish_unknown_topic", zap.String("topic", topic))
		return
	}
	p.Publish(key, value)
}

func (r *Router) Close() {
	for _, p := range r.producers {
		p.Close()
	}
}

func (r *Router) WaitClosed() {
	for _, p := range r.producers {
		p.WaitClosed()
	}
}
