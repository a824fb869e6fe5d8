package gateway

// Reply is the body of every REST answer. Code 0 means success, otherwise it carries an errs code.
type Reply struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

func Success(data any) *Reply {
	return &Reply{Code: 0, Msg: "ok", Data: data}
}

func Fail(code int, msg string) *Reply {
	return &Reply{Code: code, Msg: msg}
}
