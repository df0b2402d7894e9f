package pulsar

var (
	_ Operations = (*RestOperations)(nil)
	_ Operations = (*AmqpOperations)(nil)
)
