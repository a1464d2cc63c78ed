/*
Package ramp generates a biphasic current ramp for whole-cell current clamp.

The Engine rises linearly from a start amplitude to an end amplitude and
then falls back, one step per tick of a real-time loop.  Each half of the
ramp takes Duration/2 seconds.  When the fall reaches the start amplitude
the output snaps to zero and the ramp is over.

There are two execution contexts:

  - the tick loop, which calls Engine.Tick once per period.  Tick never
    blocks, never does I/O and does not allocate.
  - the control context (HTTP handlers, pollers, config reloads), which
    talks to the engine only through Post, Configure, SetRecording,
    OnPeriodChange and OnPause/OnResume, and reads it back through the
    atomic getters or the versioned Telemetry snapshot.

Commands travel through a bounded single-consumer Channel; at most one is
applied per tick, before that tick's step, in the order they were posted.

Samples are buffered into preallocated Recordings.  At the stop edge the
filled Recording is handed to the control context on Completed for
persistence, and a fresh one is taken from the pool, so the tick loop never
touches the disk.  Release returns a persisted Recording to the pool.

Basic usage:

	eng, err := ramp.NewEngine(ramp.DefaultConfig(), ramp.Options{Period: time.Millisecond})
	if err != nil {
		log.Fatal(err)
	}
	// from the control context
	err = eng.Post(ramp.ToggleCommand{StartRamp: true, StartRecording: true})
	// from the tick loop
	amps := eng.Tick(volts)
*/
package ramp
