package tts

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Wyoming frames every event as
//
//	<json_length> <payload_length>\n
//	<json>\n
//	<payload>
type wyomingEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

func writeEvent(w io.Writer, evt wyomingEvent, payload []byte) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d %d\n", len(body), len(payload))
	bw.Write(body)
	bw.WriteByte('\n')
	bw.Write(payload)
	return bw.Flush()
}

type byteReader interface {
	io.Reader
	io.ByteReader
}

func readEvent(r io.Reader) (*wyomingEvent, []byte, error) {
	br, ok := r.(byteReader)
	if !ok {
		br = &oneByteReader{r: r}
	}

	var header []byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, nil, fmt.Errorf("reading header: %w", err)
		}
		if b == '\n' {
			break
		}
		header = append(header, b)
	}

	jsonLen, payloadLen, err := parseHeader(string(header))
	if err != nil {
		return nil, nil, err
	}

	body := make([]byte, jsonLen+1)
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, nil, fmt.Errorf("reading json: %w", err)
	}

	var evt wyomingEvent
	if err := json.Unmarshal(body[:jsonLen], &evt); err != nil {
		return nil, nil, fmt.Errorf("unmarshalling event: %w", err)
	}

	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(br, payload); err != nil {
			return nil, nil, fmt.Errorf("reading payload: %w", err)
		}
	}
	return &evt, payload, nil
}

func parseHeader(h string) (int, int, error) {
	jsonPart, payloadPart, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok {
		return 0, 0, fmt.Errorf("invalid wyoming header: %q", h)
	}
	jsonLen, err := strconv.Atoi(jsonPart)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing json length: %w", err)
	}
	payloadLen, err := strconv.Atoi(strings.TrimSpace(payloadPart))
	if err != nil {
		return 0, 0, fmt.Errorf("parsing payload length: %w", err)
	}
	return jsonLen, payloadLen, nil
}

// oneByteReader avoids buffering past the event boundary on plain readers.
type oneByteReader struct {
	r   io.Reader
	buf [1]byte
}

func (o *oneByteReader) Read(p []byte) (int, error) { return o.r.Read(p) }

func (o *oneByteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(o.r, o.buf[:]); err != nil {
		return 0, err
	}
	return o.buf[0], nil
}
