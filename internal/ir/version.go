package ir

// EngineVersion is the hswatch engine version reported at init.
const EngineVersion = "0.1.0"
