// Package wsevent routes JSON messages on long-lived WebSocket connections
// to typed handlers, validating requests and responses against closed
// schemas.
//
// Every message is a JSON object whose "type" field names the event. The
// router looks up the handler for that event, validates the message,
// decodes it into the handler's input type, calls the handler, and shapes
// the result into a reply carrying a "type" field of its own. Failures are
// answered with an error message and the connection stays open.
//
// # Quick Start
//
// Choose a per-connection state type and declare handlers:
//
//	type Client struct {
//	    hub  *Hub
//	    name string
//	}
//
//	type JoinIn struct {
//	    Name string `json:"name"`
//	}
//
//	type JoinOut struct {
//	    Members []string `json:"members"`
//	}
//
//	func onJoin(ctx context.Context, c *Client, in JoinIn) (JoinOut, error) {
//	    c.name = in.Name
//	    return JoinOut{Members: c.hub.Join(c)}, nil
//	}
//
// Register them and serve connections:
//
//	r := wsevent.New[*Client](wsevent.WithLogger(logger))
//	wsevent.Must(wsevent.RegisterFunc(r, onJoin)) // event "join"
//
//	http.Handle("/ws", websocket.NewHandler(r, func(*http.Request) (*Client, error) {
//	    return &Client{hub: hub}, nil
//	}))
//
// A client sending {"type":"join","name":"ada"} receives
// {"type":"join","members":["ada"]}.
//
// # Event Names
//
// The Event option names the event explicitly. Without it the name is
// derived from the handler: the function name for FuncFunc and ProcFunc,
// the type name (minus a Handler, Func or Proc suffix) otherwise. A leading
// on/handle prefix is stripped and the rest converted to snake_case, so
// onUserJoined handles "user_joined". Anonymous functions need the Event
// option.
//
// # Schemas
//
// The request schema is derived from the handler's input type once, at
// registration. Struct fields map to message fields by json name; a field
// is optional when it is a pointer, has omitempty, or carries a default
// tag. Undeclared fields are rejected unless the input has a Payload field
// to collect them. Nested structs are validated recursively.
//
// Responses are shaped by, in order of precedence:
//
//  1. A schema given with the Response option
//  2. A schema derived from the result type, when it is a struct
//  3. A fallback that accepts any object and wraps scalar results under
//     the event name
//
// Schemas built with NewSchema declare fields explicitly:
//
//	pong := wsevent.MustSchema("pong", wsevent.Required("time", wsevent.KindString))
//	wsevent.RegisterFunc(r, ping, wsevent.Event("ping"), wsevent.Response(pong))
//
// When a schema has exactly one field, non-object results are wrapped under
// it. A missing "type" in a result is filled in from the response schema.
//
// # Errors
//
// Every failure is an *Error with a Kind. Message failures are sent to the
// client as
//
//	{"type":"error","error_type":"ValidationError","detail":[...]}
//
// Validation failures carry a FieldErrors detail listing each failed field.
// A handler error is reported as HandlerError with the detail "internal
// error" unless the handler wrapped it with Public. DuplicateEvent and
// InvalidSchema are only returned from registration.
//
// # Sessions
//
// Serve runs one connection: messages are handled strictly in order, one
// at a time. State implementing Connector or Disconnector is notified when
// the connection starts and ends, and may reject the connection from
// OnConnect. Handlers reach their Session through SessionFrom to push
// events or close the connection.
//
// # Hooks
//
// Hooks observe the session lifecycle without coupling the router to a
// logging or metrics system:
//
//	r := wsevent.New[*Client](
//	    wsevent.WithOnReceive(func(ctx context.Context, session, event string) context.Context {
//	        return ctx
//	    }),
//	    wsevent.WithOnFailure(func(ctx context.Context, session, event string, err error, d time.Duration) {
//	        logger.Warn("event failed", zap.String("error_type", string(wsevent.KindOf(err))))
//	    }),
//	)
//
// The metrics and tracing packages provide ready-made hooks for Prometheus
// and OpenTelemetry.
//
// # Thread Safety
//
// Router is safe for concurrent use after configuration is complete. Do not
// register handlers after calling Serve or Dispatch.
package wsevent
