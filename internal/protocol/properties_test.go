package protocol

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertiesEncoding(t *testing.T) {
	tests := []struct {
		name  string
		props Properties
	}{
		{
			name:  "empty properties",
			props: Properties{},
		},
		{
			name:  "content type only",
			props: Properties{ContentType: "application/json"},
		},
		{
			name:  "persistent delivery",
			props: Properties{DeliveryMode: DeliveryModePersistent},
		},
		{
			name: "full properties",
			props: Properties{
				ContentType:     "text/plain",
				ContentEncoding: "utf-8",
				Headers:         Table{"x-custom": LongString("value")},
				DeliveryMode:    DeliveryModePersistent,
				Priority:        5,
				CorrelationId:   "correlation-123",
				ReplyTo:         "reply-queue",
				Expiration:      "60000",
				MessageId:       "msg-456",
				Timestamp:       time.Unix(1234567890, 0),
				Type:            "user.created",
				UserId:          "guest",
				AppId:           "my-app",
				ClusterId:       "rabbit@node1",
			},
		},
		{
			name: "with headers",
			props: Properties{
				Headers: Table{
					"x-retry-count": Int32(3),
					"x-source":      LongString("service-a"),
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := EncodeProperties(tt.props)
			require.NoError(t, err)

			decoded, err := DecodeProperties(encoded)
			require.NoError(t, err)

			if diff := cmp.Diff(tt.props, decoded); diff != "" {
				t.Errorf("properties mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPropertiesWireLayout(t *testing.T) {
	encoded, err := EncodeProperties(Properties{
		ContentType:  "text/plain",
		DeliveryMode: DeliveryModePersistent,
	})
	require.NoError(t, err)

	assert.Equal(t, []byte{
		0x90, 0x00,
		10, 't', 'e', 'x', 't', '/', 'p', 'l', 'a', 'i', 'n',
		2,
	}, encoded)
}

func TestEmptyPropertiesAreTwoZeroBytes(t *testing.T) {
	encoded, err := EncodeProperties(Properties{})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00}, encoded)
}

func TestPropertiesTruncated(t *testing.T) {
	_, err := DecodeProperties([]byte{0x80, 0x00, 5, 'a'})
	assert.Error(t, err)
}
