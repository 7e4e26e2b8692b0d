// Package subactors implements the thin wrappers around go-libp2p's DHT,
// pubsub, and stream-based request/response behaviours that the swarm actor
// dispatches commands to.
package subactors

import (
	"regexp"

	"github.com/libp2p/go-libp2p/core/peer"
)

// GetRecordResult is streamed back to a GetRecord caller: one entry per
// distinct value seen from the DHT, terminated by closing the channel.
type GetRecordResult struct {
	Value []byte
	Err   error
}

// GetProvidersResult is streamed back to a GetProviders caller, one entry
// per discovered provider, terminated by closing the channel.
type GetProvidersResult struct {
	Peer peer.ID
	Err  error
}

// SubscriptionHandle identifies a live pubsub or req-resp subscription so it
// can later be torn down.
type SubscriptionHandle uint64

// SubscribeResult is returned synchronously from a pubsub Subscribe command.
type SubscribeResult struct {
	Handle   SubscriptionHandle
	Messages <-chan PubsubMessage
	Err      error
}

// PubsubMessage is a single message delivered on a subscribed topic.
type PubsubMessage struct {
	From  peer.ID
	Data  []byte
	Topic string
}

// topicQueryKind discriminates the three states a TopicQuery can be in.
type topicQueryKind int

const (
	topicQueryLiteral topicQueryKind = iota
	topicQueryRegex
	topicQueryNone
)

// TopicQuery selects which inbound requests a subscription receives: an
// exact topic string, a regular expression over the topic string, or (via
// NewTopicQueryNone) a request that carries no topic at all.
type TopicQuery struct {
	kind    topicQueryKind
	literal string
	re      *regexp.Regexp
}

// NewTopicQueryLiteral builds a query matching the topic string exactly.
func NewTopicQueryLiteral(topic string) TopicQuery {
	return TopicQuery{kind: topicQueryLiteral, literal: topic}
}

// NewTopicQueryRegex builds a query matching any topic the given regular
// expression pattern matches. An invalid pattern is returned as an error, to
// be surfaced as an InvalidArgument at the bridge boundary.
func NewTopicQueryRegex(pattern string) (TopicQuery, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return TopicQuery{}, err
	}
	return TopicQuery{kind: topicQueryRegex, re: re}, nil
}

// NewTopicQueryNone builds a query that only matches requests carrying no
// topic.
func NewTopicQueryNone() TopicQuery {
	return TopicQuery{kind: topicQueryNone}
}

// Matches implements the three-way match between a subscription's query and
// an inbound request's optional topic: (query, Some(topic)) defers to the
// query's own literal/regex match; (None-query, None-topic) matches;
// anything else (a None-query against a topic, or a literal/regex query
// against a topic-less request) does not.
func (q TopicQuery) Matches(topic *string) bool {
	if q.kind == topicQueryNone {
		return topic == nil
	}
	if topic == nil {
		return false
	}
	if q.kind == topicQueryRegex {
		return q.re.MatchString(*topic)
	}
	return q.literal == *topic
}

// IsLiteral reports whether this query is a plain string match, and returns
// the literal if so.
func (q TopicQuery) IsLiteral() (string, bool) {
	if q.kind != topicQueryLiteral {
		return "", false
	}
	return q.literal, true
}

// TopicPtr returns a pointer to topic, for building a Request with a present
// topic from a string constant or literal (which cannot be addressed
// directly).
func TopicPtr(topic string) *string { return &topic }

// Request is an outbound request payload. Topic is optional: nil means the
// request carries no topic at all, and it only reaches a subscriber whose
// query was built with NewTopicQueryNone.
type Request struct {
	Topic *string
	Data  []byte
}

// InboundRequest is delivered to a subscriber whose TopicQuery matched an
// incoming request.
type InboundRequest struct {
	ID      uint64
	Peer    peer.ID
	Request Request
	Respond func(Response)
}

// ResponseErrorKind enumerates why a request/response exchange failed.
type ResponseErrorKind int

const (
	ResponseErrorTimeout ResponseErrorKind = iota
	ResponseErrorTopicNotSubscribed
	ResponseErrorScript
)

// ResponseError carries a failure kind plus, for ResponseErrorScript, the
// application-supplied message.
type ResponseError struct {
	Kind    ResponseErrorKind
	Message string
}

func (e *ResponseError) Error() string {
	switch e.Kind {
	case ResponseErrorTimeout:
		return "request timed out"
	case ResponseErrorTopicNotSubscribed:
		return "no subscriber for topic"
	default:
		return "script error: " + e.Message
	}
}

// Response is either successful response data or a ResponseError.
type Response struct {
	Data []byte
	Err  *ResponseError
}

// RequestResult is delivered to a SendRequest caller.
type RequestResult struct {
	Response Response
	Err      error
}
