// Package rpc layers request/response semantics over MQTT publish/subscribe
// for gray-logic-mqtt.
//
// This package manages:
//   - Correlation of an outbound request publish with a future inbound
//     reply, expressed as a single call with a timeout
//   - Long-lived streams of matching inbound messages
//   - Multiplexing of many in-flight requests over one shared connection
//
// # Correlation
//
// A request names one or more subscription filters expected to carry the
// reply, and one or more response matchers: a topic (possibly with
// wildcards) plus an optional dot-separated JSON path to the correlation
// value inside the payload. A reply is accepted when its topic matches a
// declared matcher and, where a correlation path is configured, the value
// at that path equals the request's token. Requests without a token accept
// any message on a matched topic; avoiding ambiguity is then the caller's
// responsibility.
//
// # Protocol adapters
//
// Connectivity is delegated to a ProtocolAdapter so the same client works
// unmodified over the managed session client or a bare paho client; both
// variants live in the transport package and are chosen at construction
// time.
//
// # Usage
//
//	client, err := rpc.New(transport.NewSessionAdapter(sess))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	token := rpc.NewCorrelationToken()
//	resp, err := client.SubmitRequest(ctx, rpc.Request{
//	    PublishTopic:        "graylogic/request/lighting/get-state",
//	    Payload:             []byte(`{"request_id":"` + token + `"}`),
//	    SubscriptionFilters: []string{"graylogic/response/lighting/+"},
//	    ResponsePaths: []rpc.ResponsePath{
//	        {Topic: "graylogic/response/lighting/+", CorrelationPath: "request_id"},
//	    },
//	    CorrelationToken: token,
//	})
package rpc
