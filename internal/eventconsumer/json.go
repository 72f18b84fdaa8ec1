package eventconsumer

import "encoding/json"

func marshalPayload(payload map[string]interface{}) ([]byte, error) {
	return json.Marshal(payload)
}
