package queue

// ConsumerStats is a point-in-time view of one consumer
type ConsumerStats struct {
	Tag         string `json:"tag"`
	Prefetch    int    `json:"prefetch"`
	Outstanding int    `json:"outstanding"`
	AckMode     string `json:"ackMode"`
	Exclusive   bool   `json:"exclusive"`
}

// Stats is a point-in-time view of a queue
type Stats struct {
	Name       string          `json:"name"`
	Durable    bool            `json:"durable"`
	Exclusive  bool            `json:"exclusive"`
	AutoDelete bool            `json:"autoDelete"`
	Messages   int             `json:"messages"`
	Unacked    int             `json:"unacked"`
	Consumers  []ConsumerStats `json:"consumers"`
}

// Stats returns pending, unacknowledged and per-consumer counts
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		Name:       q.name,
		Durable:    q.options.Durable,
		Exclusive:  q.options.Exclusive,
		AutoDelete: q.options.AutoDelete,
		Messages:   q.pending.Len(),
		Consumers:  make([]ConsumerStats, 0, len(q.consumers)),
	}

	for _, c := range q.consumers {
		s.Unacked += len(c.inflight)
		s.Consumers = append(s.Consumers, ConsumerStats{
			Tag:         c.tag,
			Prefetch:    c.prefetch,
			Outstanding: len(c.inflight),
			AckMode:     c.ackMode.String(),
			Exclusive:   c.exclusive,
		})
	}

	return s
}
