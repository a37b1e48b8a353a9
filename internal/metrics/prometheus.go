package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_rag_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"origin"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_rag_query_total",
			Help: "Total number of RAG queries processed",
		},
		[]string{"status"},
	)

	RetrievalMatches = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_rag_retrieval_matches",
			Help:    "Number of vector matches surviving the score filter",
			Buckets: []float64{0, 1, 2, 5, 10, 15},
		},
	)

	ChunksIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_rag_chunks_ingested_total",
			Help: "Total document chunks embedded and upserted",
		},
	)

	MessagesIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_rag_messages_indexed_total",
			Help: "Total chat messages embedded and upserted",
		},
	)

	ListenerResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_rag_listener_responses_total",
			Help: "DM listener responses posted, by outcome",
		},
		[]string{"outcome"},
	)

	ActiveChannelListeners = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_rag_active_channel_listeners",
			Help: "Number of DM channels currently being listened to",
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_rag_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		QueryDuration,
		QueryTotal,
		RetrievalMatches,
		ChunksIngested,
		MessagesIndexed,
		ListenerResponses,
		ActiveChannelListeners,
		LLMTokensUsed,
	)
}

func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
