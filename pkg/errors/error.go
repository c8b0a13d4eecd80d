package errors

// ErrorCode represents a specific error code in the system.
type ErrorCode string

const (
	// GeneralInternalServerError represents a generic internal server error.
	GeneralInternalServerError ErrorCode = "general_internal_server_error"
	// GeneralBadRequestError represents a generic bad request error.
	GeneralBadRequestError ErrorCode = "general_bad_request_error"
	// GeneralNotFoundError represents a generic not found error.
	GeneralNotFoundError ErrorCode = "general_not_found_error"

	// RedisConfigError represents an error when the Redis configuration is invalid or nil.
	RedisConfigError ErrorCode = "redis_config_error"
	// RedisConnectionError represents an error when connecting to Redis.
	RedisConnectionError ErrorCode = "redis_connection_error"
	// RedisDisconnectionError represents an error when disconnecting from Redis.
	RedisDisconnectionError ErrorCode = "redis_disconnection_error"
	// RedisPingError represents an error when pinging Redis.
	RedisPingError ErrorCode = "redis_pinging_error"
	// RedisGetError represents an error when getting a value from Redis.
	RedisGetError ErrorCode = "redis_get_error"
	// RedisSetError represents an error when setting a value in Redis.
	RedisSetError ErrorCode = "redis_set_error"
	// RedisZRangeError represents an error when reading a sorted set range from Redis.
	RedisZRangeError ErrorCode = "redis_zrange_error"
	// RedisEvalError represents an error when evaluating a script in Redis.
	RedisEvalError ErrorCode = "redis_eval_error"
	// RedisSubscribeError represents an error when subscribing to channels in Redis.
	RedisSubscribeError ErrorCode = "redis_subscribe_error"
	// RedisPublishError represents an error when publishing messages to channels in Redis.
	RedisPublishError ErrorCode = "redis_publish_error"

	// CandleInvalidError represents a candle that fails validation before storage.
	CandleInvalidError ErrorCode = "candle_invalid_error"
	// CandleEncodeError represents an error while encoding a candle for storage.
	CandleEncodeError ErrorCode = "candle_encode_error"
	// CandleDecodeError represents an error while decoding a stored candle.
	CandleDecodeError ErrorCode = "candle_decode_error"

	// AdapterDialError represents a failure to open the upstream exchange connection.
	AdapterDialError ErrorCode = "adapter_dial_error"
	// AdapterParseError represents a malformed upstream push message.
	AdapterParseError ErrorCode = "adapter_parse_error"
	// AdapterSubscribeError represents a failure to send a subscribe control frame.
	AdapterSubscribeError ErrorCode = "adapter_subscribe_error"
	// AdapterExhaustedError represents a reconnect sequence that hit the attempt cap.
	AdapterExhaustedError ErrorCode = "adapter_exhausted_error"
	// AdapterClosedError represents an operation on an intentionally closed adapter.
	AdapterClosedError ErrorCode = "adapter_closed_error"

	// HistoryFetchError represents a failed REST pull of historical candles.
	HistoryFetchError ErrorCode = "history_fetch_error"

	// BridgeAdmissionError represents a refused client connection.
	BridgeAdmissionError ErrorCode = "bridge_admission_error"
	// BridgeProtocolError represents a malformed or invalid client frame.
	BridgeProtocolError ErrorCode = "bridge_protocol_error"
	// BridgeBackpressureError represents a connection terminated for falling behind.
	BridgeBackpressureError ErrorCode = "bridge_backpressure_error"

	// FirehosePublishError represents a failed best-effort kafka publish.
	FirehosePublishError ErrorCode = "firehose_publish_error"
)
