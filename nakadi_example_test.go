package nakadi_test

import (
	"fmt"
	"log"
	"time"

	nakadi "github.com/stoewer/nakadi-consumer"
)

func Example() {
	client := nakadi.New("https://nakadi.example.org", &nakadi.ClientOptions{
		TokenProvider: func() (string, error) { return "my-token", nil }})

	connector, err := nakadi.NewConnector(client, &nakadi.ConnectorSettings{
		NakadiURL:            "https://nakadi.example.org",
		BatchLimit:           100,
		MaxUncommittedEvents: 1000}, nil)
	if err != nil {
		log.Fatal(err)
	}

	factory := nakadi.HandlerFactoryFunc(func(partition string) nakadi.Handler {
		return nakadi.HandlerFunc(func(events []byte, info nakadi.BatchInfo) nakadi.AfterBatchAction {
			fmt.Printf("received batch on partition %s at offset %s\n", info.Cursor.Partition, info.Cursor.Offset)
			return nakadi.Continue
		})
	})

	consumer, err := nakadi.NewConsumer(connector, "my-subscription-id", factory, &nakadi.ConsumerOptions{
		CommitStrategy: nakadi.CommitAfterEventsOrElapsed(100, 10*time.Second)})
	if err != nil {
		log.Fatal(err)
	}

	if err := consumer.Start(); err != nil {
		log.Fatal(err)
	}
	defer consumer.Stop()

	consumer.WaitStopped()
}
