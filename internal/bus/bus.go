// Package bus provides the publish/subscribe fabric agents communicate over.
// Messages are JSON payloads on named topics; delivery is at-most-once to
// currently subscribed consumers.
package bus

import "context"

// Bus is the messaging contract. Implementations must be safe for concurrent
// use.
type Bus interface {
	// Publish marshals v to JSON and sends it on topic. Publishing to a
	// topic with no subscribers is not an error.
	Publish(ctx context.Context, topic string, v any) error

	// Subscribe returns a channel of raw payloads for topic and a cancel
	// function that releases the subscription. The channel is closed after
	// cancel is called or the context ends.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, func(), error)

	// Close releases all subscriptions and underlying resources.
	Close() error
}

// Topic names for the agent fabric. Per-task topics are built with the
// helper functions below.
const (
	TopicTaskControl     = "agent:task_control"
	TopicPendingMessages = "agent:pending_messages"
	TopicResponses       = "agent:responses"
	TopicHeartbeats      = "agent:heartbeats"
	TopicStatus          = "agent:status"
	TopicToolCalls       = "agent:tool_calls"
	TopicToolResults     = "agent:tool_results"
)

// TaskTopic returns the task queue topic for an agent type.
func TaskTopic(agentType string) string {
	return "agent:" + agentType + ":tasks"
}

// ProgressTopic returns the per-task progress event topic.
func ProgressTopic(taskID string) string {
	return "task:" + taskID + ":progress"
}

// ResponseTopic returns the per-task final response topic.
func ResponseTopic(taskID string) string {
	return "task:" + taskID + ":response"
}
