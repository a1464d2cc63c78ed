package ramp

import (
	"errors"
	"sync"
	"testing"
)

func TestChannelRoundsUpToPowerOfTwo(t *testing.T) {
	c := NewChannel(3)
	if c.Cap() != 4 {
		t.Errorf("expected capacity 4 got %d", c.Cap())
	}
}

func TestChannelFIFO(t *testing.T) {
	c := NewChannel(8)
	for i := 0; i < 5; i++ {
		if err := c.Post(Command{Kind: CommandConfig, Config: Config{Cell: i}}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 5; i++ {
		cmd, ok := c.Poll()
		if !ok {
			t.Fatalf("expected command %d, channel empty", i)
		}
		if cmd.Config.Cell != i {
			t.Errorf("expected cell %d got %d", i, cmd.Config.Cell)
		}
	}
	if _, ok := c.Poll(); ok {
		t.Error("poll on an empty channel returned a command")
	}
}

func TestChannelRejectsWhenFull(t *testing.T) {
	c := NewChannel(2)
	c.Post(Command{Toggle: ToggleCommand{StartRamp: true}})
	c.Post(Command{Toggle: ToggleCommand{StartRamp: false}})
	err := c.Post(Command{Toggle: ToggleCommand{StartRamp: true}})
	if !errors.Is(err, ErrChannelSaturated) {
		t.Errorf("expected ErrChannelSaturated got %v", err)
	}
	cmd, _ := c.Poll()
	if !cmd.Toggle.StartRamp {
		t.Error("a queued command was displaced by a rejected one")
	}
	if err := c.Post(Command{}); err != nil {
		t.Errorf("expected room after a poll, got %v", err)
	}
}

func TestChannelWrapsAround(t *testing.T) {
	c := NewChannel(4)
	for i := 0; i < 100; i++ {
		c.Post(Command{Config: Config{Cell: i}})
		cmd, ok := c.Poll()
		if !ok || cmd.Config.Cell != i {
			t.Fatalf("expected cell %d got %d (ok=%v)", i, cmd.Config.Cell, ok)
		}
	}
}

func TestChannelConcurrentProducers(t *testing.T) {
	const (
		producers = 4
		each      = 500
	)
	c := NewChannel(16)
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; {
				if c.Post(Command{Config: Config{Cell: p*each + i}}) == nil {
					i++
				}
			}
		}(p)
	}

	seen := make([]bool, producers*each)
	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	for got := 0; got < producers*each; {
		cmd, ok := c.Poll()
		if !ok {
			continue
		}
		n := cmd.Config.Cell
		if seen[n] {
			t.Fatalf("command %d delivered twice", n)
		}
		seen[n] = true
		p, i := n/each, n%each
		if i <= last[p] {
			t.Fatalf("producer %d out of order: %d after %d", p, i, last[p])
		}
		last[p] = i
		got++
	}
	wg.Wait()
}

func TestChannelPostAllIsAllOrNothing(t *testing.T) {
	c := NewChannel(4)
	c.Post(Command{Kind: CommandRecording})
	c.Post(Command{Kind: CommandRecording})
	c.Post(Command{Kind: CommandRecording})
	err := c.PostAll(Command{Kind: CommandConfig}, Command{Kind: CommandToggle})
	if err != ErrChannelSaturated {
		t.Errorf("expected ErrChannelSaturated got %v", err)
	}
	if c.Len() != 3 {
		t.Errorf("expected 3 pending got %d", c.Len())
	}
	c.Poll()
	if err := c.PostAll(Command{Kind: CommandConfig}, Command{Kind: CommandToggle}); err != nil {
		t.Fatal(err)
	}
	kinds := []CommandKind{}
	for {
		cmd, ok := c.Poll()
		if !ok {
			break
		}
		kinds = append(kinds, cmd.Kind)
	}
	if len(kinds) != 4 || kinds[2] != CommandConfig || kinds[3] != CommandToggle {
		t.Errorf("expected config then toggle at the back got %v", kinds)
	}
}
