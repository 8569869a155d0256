package httpapi

import (
	"io"

	sonic "github.com/bytedance/sonic"
	"github.com/valyala/bytebufferpool"
)

// writeEvent writes one server-sent event frame with a JSON data line.
func writeEvent(w io.Writer, event string, payload any) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	data, err := sonic.Marshal(payload)
	if err != nil {
		return err
	}

	_, _ = buf.WriteString("event: ")
	_, _ = buf.WriteString(event)
	_, _ = buf.WriteString("\ndata: ")
	_, _ = buf.Write(data)
	_, _ = buf.WriteString("\n\n")

	_, err = w.Write(buf.B)
	return err
}
