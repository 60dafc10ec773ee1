// Package appsched bridges the ability manager to the application-process
// manager: the side that starts, foregrounds, backgrounds and kills the
// processes abilities run in.
//
// AppManager is the process manager's operation set. It is reached either
// in-process (LocalAppManager) or through a Proxy over an ipc.RemoteObject.
// Scheduler adapts an AppManager to ability.AppScheduler and relays the
// process manager's state callbacks back to the ability manager.
package appsched
