package core

// listenBacklog is the listen(2) backlog for the accepting socket.
const listenBacklog = 5
