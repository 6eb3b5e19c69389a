// Package agent maps stage names to the agents that execute them. An
// agent can be any implementation of stage.Agent: an in-process
// function, a remote HTTP worker, or anything else that turns a stage
// input into a result. The registry is the single lookup point the
// scheduler uses when launching stages.
package agent
