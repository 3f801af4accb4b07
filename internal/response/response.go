package response

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Envelope is the body of every JSON response. A refused session write still
// fills Data with the committed session status next to Error.
type Envelope struct {
	Data     any      `json:"data"`
	Error    *Problem `json:"error,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// Problem says why a request was refused.
type Problem struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Metadata ties a body to its request. Learner clients compare ServerTime with
// a session deadline to correct their countdown.
type Metadata struct {
	RequestID  string    `json:"request_id"`
	ServerTime time.Time `json:"server_time"`
}

func Success(c *gin.Context, status int, data any) {
	c.JSON(status, envelope(c, data, nil))
}

func Fail(c *gin.Context, status int, code ErrCode) {
	c.JSON(status, envelope(c, nil, problem(code, nil)))
}

// FailWithData refuses a request but still returns a payload, usually the
// session as it stands.
func FailWithData(c *gin.Context, status int, code ErrCode, data any) {
	c.JSON(status, envelope(c, data, problem(code, nil)))
}

func FailWithFields(c *gin.Context, status int, code ErrCode, fields map[string]string) {
	c.JSON(status, envelope(c, nil, problem(code, fields)))
}

// AbortFail refuses the request from middleware and stops the chain.
func AbortFail(c *gin.Context, status int, code ErrCode) {
	c.AbortWithStatusJSON(status, envelope(c, nil, problem(code, nil)))
}

func problem(code ErrCode, fields map[string]string) *Problem {
	return &Problem{Code: code, Message: GetMessage(code), Fields: fields}
}

func envelope(c *gin.Context, data any, p *Problem) Envelope {
	return Envelope{
		Data:  data,
		Error: p,
		Metadata: Metadata{
			RequestID:  RequestID(c),
			ServerTime: time.Now().UTC().Truncate(time.Millisecond),
		},
	}
}
