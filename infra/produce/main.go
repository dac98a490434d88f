package produce

import amqp "github.com/rabbitmq/amqp091-go"

type Produce struct {
	Pipeline *PipelineService
}

var produceInstance *Produce

func InitProduce(channel *amqp.Channel) *Produce {
	if produceInstance != nil {
		return produceInstance
	}

	pipelineService := InitPipelineService(channel)
	if pipelineService == nil {
		panic("Failed to initialize Pipeline produce service")
	}

	produceInstance = &Produce{
		Pipeline: pipelineService,
	}

	return produceInstance
}

func GetProduce() *Produce {
	if produceInstance == nil {
		panic("Produce not initialized. Call InitProduce() first.")
	}
	return produceInstance
}
